package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	logPrefix      = "imgcarve"
	currentLogName = logPrefix + "-current.txt"
	defaultLogMax  = 10 << 20
	defaultLogKeep = 5
)

// RotatingFile 是按大小轮转的日志 io.Writer。
// 当前记录写入 imgcarve-current.txt；写满后改名为 imgcarve-<UTC 时间戳>.txt，
// 只保留最近 keep 个已轮转文件。每次 Write 视为一条完整记录，不会被拆到两个文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	keep     int

	mu      sync.Mutex
	f       *os.File
	curSize int64
}

// NewRotatingFile: maxBytes<=0 取 10 MiB；保留 5 个历史文件。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = defaultLogMax
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: defaultLogKeep}
}

func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return 0, err
	}
	if w.curSize > 0 && w.curSize+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.curSize += int64(n)
	return n, err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.curSize = 0
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	cur := filepath.Join(w.dir, currentLogName)
	if _, err := os.Stat(cur); err == nil {
		// 纳秒精度，同一秒内多次轮转不互相覆盖
		ts := time.Now().UTC().Format("20060102-150405.000000000")
		if err := os.Rename(cur, filepath.Join(w.dir, fmt.Sprintf("%s-%s.txt", logPrefix, ts))); err != nil {
			return fmt.Errorf("rename rotated log: %w", err)
		}
		w.prune()
	}
	return w.open()
}

// prune 删除超出保留数量的旧文件；时间戳文件名按字典序即时间序。
func (w *RotatingFile) prune() {
	if w.keep <= 0 {
		return
	}
	old, err := filepath.Glob(filepath.Join(w.dir, logPrefix+"-2*.txt"))
	if err != nil || len(old) <= w.keep {
		return
	}
	sort.Strings(old)
	for _, p := range old[:len(old)-w.keep] {
		_ = os.Remove(p)
	}
}

func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
