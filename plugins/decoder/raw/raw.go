package raw

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"imgcarve/pkg/contract"
)

// Options: 原样载入的可选限制。
type Options struct {
	// MaxBytes: 单个宿主文件的字节上限；<=0 表示不限（整文件载入内存）。
	MaxBytes int64 `json:"max_bytes"`
}

// Raw 将宿主字节流原样载入内存。
type Raw struct {
	max int64
}

// New 创建 Raw 解码器。
func New(opts *Options) *Raw {
	r := &Raw{}
	if opts != nil && opts.MaxBytes > 0 {
		r.max = opts.MaxBytes
	}
	return r
}

var _ contract.Decoder = (*Raw)(nil)

// Load 读完 r 的全部字节。
// 超出 MaxBytes 返回 contract.ErrInvalidInput；读失败以 *contract.IOError 返回。
func (d *Raw) Load(ctx context.Context, fileID contract.FileID, r io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if d.max > 0 {
		// 多读 1 字节用于判定超限
		src = io.LimitReader(src, d.max+1)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(src); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, contract.WrapIO("read", string(fileID), err)
	}
	if d.max > 0 && int64(buf.Len()) > d.max {
		return nil, fmt.Errorf("%w: %s exceeds max_bytes %d", contract.ErrInvalidInput, fileID, d.max)
	}
	return buf.Bytes(), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
