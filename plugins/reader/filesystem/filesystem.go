package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgcarve/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，大小写不敏感）。
	// 例如 [".git","node_modules"]。仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// ExcludeExts: 跳过这些扩展名的文件（如 [".py", ".png"]），大小写不敏感，可省略前导点。
	ExcludeExts []string `json:"exclude_exts"`
	// ExcludePaths: 跳过这些路径（目录或文件，按 Clean 后的绝对路径比较）。
	// 典型用法：输出目录位于输入根之下时避免重复扫描。
	ExcludePaths []string `json:"exclude_paths"`
}

// FileSystem 实现基于文件系统的 Reader。
type FileSystem struct {
	bufSize int
	// 以小写形式保存，比较时按小写匹配。
	excludeDir map[string]struct{}
	excludeExt map[string]struct{}
	excludeAbs map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	r := &FileSystem{
		bufSize:    b,
		excludeDir: make(map[string]struct{}),
		excludeExt: make(map[string]struct{}),
		excludeAbs: make(map[string]struct{}),
	}
	if opts == nil {
		return r
	}
	for _, name := range opts.ExcludeDirNames {
		if name = strings.TrimSpace(name); name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, ext := range opts.ExcludeExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.excludeExt[ext] = struct{}{}
	}
	for _, p := range opts.ExcludePaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			r.excludeAbs[abs] = struct{}{}
		}
	}
	return r
}

var _ contract.Reader = (*FileSystem)(nil)

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// 文件句柄在首次 Read 时才打开，打开失败表现为 Read 返回的 *contract.IOError，
// 由调用方决定跳过还是中止。目录读取失败直接中止遍历。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Lstat(root)
	if err != nil {
		return contract.WrapIO("walk", root, err)
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return contract.WrapIO("walk", root, err)
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.excludedPath(dir) {
		return nil
	}

	// 目录清单在处理任何文件前一次取齐：运行中新写入的输出不会被再次扫描。
	entries, err := os.ReadDir(dir)
	if err != nil {
		return contract.WrapIO("walk", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				// 悬空链接：跳过
				continue
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、管道、套接字等
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	if _, skip := r.excludeExt[strings.ToLower(filepath.Ext(p))]; skip {
		return nil
	}
	if r.excludedPath(p) {
		return nil
	}
	brc := newBufferedCloser(&lazyFile{path: p}, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

func (r *FileSystem) excludedPath(p string) bool {
	if len(r.excludeAbs) == 0 {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	_, ok := r.excludeAbs[abs]
	return ok
}

// lazyFile 在首次 Read 时打开文件，避免遍历期间持有大量句柄。
type lazyFile struct {
	path string
	f    *os.File
	err  error
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.f == nil && l.err == nil {
		l.f, l.err = os.Open(l.path)
		if l.err != nil {
			l.err = contract.WrapIO("open", l.path, l.err)
		}
	}
	if l.err != nil {
		return 0, l.err
	}
	n, err := l.f.Read(p)
	if err != nil && err != io.EOF {
		return n, contract.WrapIO("read", l.path, err)
	}
	return n, err
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
