// Package cborseq 以 CBOR 序列（RFC 8742）记录资产清单。
// 编码采用 Core Deterministic Encoding：同一条目总是得到相同字节。
package cborseq

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"imgcarve/pkg/contract"
	"imgcarve/plugins/manifest"
)

// DefaultName: 未指定路径时的清单文件名（位于输出目录下）。
const DefaultName = "imgcarve-manifest.cbor"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cborseq: CBOR encoder initialization failed: " + err.Error())
	}
}

// Options: 清单选项。
type Options struct {
	Path string `json:"path"`
}

// Seq 实现 contract.Manifest。
type Seq struct {
	mu   sync.Mutex
	path string
	f    *os.File
	bw   *bufio.Writer
	enc  *cbor.Encoder
}

// New 创建（截断）清单文件。
func New(opts *Options, outputDir string) (*Seq, error) {
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
	return &Seq{path: p, f: f, bw: bw, enc: encMode.NewEncoder(bw)}, nil
}

var _ contract.Manifest = (*Seq)(nil)

func (m *Seq) Path() string { return m.path }

func (m *Seq) Record(ctx context.Context, e contract.ManifestEntry) error {
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

func (m *Seq) Close() error {
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
