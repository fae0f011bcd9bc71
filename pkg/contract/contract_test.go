package contract

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	wpath := filepath.Join("a", "b", "c")
	basicCases := map[string]string{
		wpath:      "a/b/c",
		"./x/../y": "y",
		"":         ".",
	}
	for in, want := range basicCases {
		got := NormalizeFileID(in)
		if string(got) != want {
			t.Fatalf("基础测试 %s -> %s, 预期 %s", in, got, want)
		}
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Windows路径", "C:\\Users\\test\\dump.bin", "C:/Users/test/dump.bin"},
		{"清理多余斜杠", "path//to///file.dat", "path/to/file.dat"},
		{"处理父目录", "path/to/../from/file.dat", "path/from/file.dat"},
		{"单个点", ".", "."},
		{"根路径", "/", "/"},
		{"混合分隔符", "C:\\Users/test\\Documents/file.bin", "C:/Users/test/Documents/file.bin"},
		{"中文路径", "项目\\资源/存档.dat", "项目/资源/存档.dat"},
		{"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestBaseName 基名去扩展名（仅去最后一段）。
func TestBaseName(t *testing.T) {
	cases := map[FileID]string{
		"dump.bin":          "dump",
		"a/b/archive.tar.gz": "archive.tar",
		"noext":             "noext",
		"dir/.bashrc":       ".bashrc",
		"dir/..x.tar":        "..x",
		"C:\\x\\core.dmp":   "core",
		"中文/存档.dat":         "存档",
		".":                 "",
		"/":                 "",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestWrapIO 包装、解包与去重。
func TestWrapIO(t *testing.T) {
	if WrapIO("read", "x", nil) != nil {
		t.Fatalf("nil 应返回 nil")
	}
	err := WrapIO("read", "a.bin", fs.ErrPermission)
	var ioe *IOError
	if !errors.As(err, &ioe) || ioe.Op != "read" || ioe.Path != "a.bin" {
		t.Fatalf("未包装为 IOError: %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("未保留原因")
	}
	again := WrapIO("write", "b", err)
	if again != err {
		t.Fatalf("不应重复包装")
	}
	if err.Error() != "read a.bin: permission denied" {
		t.Fatalf("message = %q", err.Error())
	}
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
	testPaths := []string{
		"C:\\Users\\test\\Documents\\file.bin",
		"src/main/../../../test/data/file.bin",
		"path//to///many////slashes/file.bin",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range testPaths {
			NormalizeFileID(p)
		}
	}
}
