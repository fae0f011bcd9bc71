package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// BaseName 返回不含扩展名的文件基名（最后一个 '.' 之后为扩展名）。
// 前导的 '.' 不视为扩展名分隔符：例如 "a/b/dump.bin" -> "dump"，"a/.bashrc" -> ".bashrc"。
func BaseName(id FileID) string {
	base := path.Base(strings.ReplaceAll(string(id), "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	lead := len(base) - len(strings.TrimLeft(base, "."))
	if i := strings.LastIndexByte(base[lead:], '.'); i >= 0 {
		return base[:lead+i]
	}
	return base
}
