// Package manifest 提供资产清单的公共部分：摘要与清单文件的打开。
package manifest

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"imgcarve/pkg/contract"
)

// Digest 返回载荷的 BLAKE3-256 十六进制摘要。
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Entry 由写出结果构造清单条目。
func Entry(host contract.FileID, format string, index int, name string, offset int, payload []byte) contract.ManifestEntry {
	return contract.ManifestEntry{
		Host:   host,
		Format: format,
		Index:  index,
		Name:   name,
		Offset: int64(offset),
		Size:   int64(len(payload)),
		Digest: Digest(payload),
	}
}

// Resolve 计算清单文件路径：path 为空时使用 outputDir/defName，相对路径相对 outputDir。
func Resolve(outputDir, path, defName string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		p = defName
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(outputDir, p)
}

// Create 截断创建清单文件（必要时创建父目录）。
func Create(p string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, contract.WrapIO("write", p, err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, contract.WrapIO("write", p, err)
	}
	return f, nil
}
