// Package jsonl 以 JSON Lines 记录资产清单：每个写出的资产一行。
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"imgcarve/pkg/contract"
	"imgcarve/plugins/manifest"
)

// DefaultName: 未指定路径时的清单文件名（位于输出目录下）。
const DefaultName = "imgcarve-manifest.jsonl"

// Options: 清单选项。
type Options struct {
	// Path: 清单文件路径；相对路径相对输出目录。
	Path string `json:"path"`
}

// JSONL 实现 contract.Manifest。
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
	bw   *bufio.Writer
	enc  *json.Encoder
}

// New 创建（截断）清单文件。
func New(opts *Options, outputDir string) (*JSONL, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	p := manifest.Resolve(outputDir, o.Path, DefaultName)
	f, err := manifest.Create(p)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONL{path: p, f: f, bw: bw, enc: enc}, nil
}

var _ contract.Manifest = (*JSONL)(nil)

// Path 返回清单文件路径。
func (m *JSONL) Path() string { return m.path }

// Record 追加一行。
func (m *JSONL) Record(ctx context.Context, e contract.ManifestEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return contract.WrapIO("write", m.path, os.ErrClosed)
	}
	if err := m.enc.Encode(e); err != nil {
		return contract.WrapIO("write", m.path, err)
	}
	return nil
}

// Close 刷新并关闭；重复调用无副作用。
func (m *JSONL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	ferr := m.bw.Flush()
	cerr := m.f.Close()
	m.f = nil
	if ferr != nil {
		return contract.WrapIO("write", m.path, ferr)
	}
	return contract.WrapIO("write", m.path, cerr)
}
