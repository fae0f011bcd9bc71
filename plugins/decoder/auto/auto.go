package auto

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"imgcarve/pkg/contract"
	"imgcarve/plugins/decoder/raw"
)

// Options: 自动解包选项。
type Options struct {
	// MaxBytes: 载入与解包后的字节上限；<=0 表示不限。
	MaxBytes int64 `json:"max_bytes"`
	// Strict: 解包失败时返回 contract.ErrDecode；默认回退为原样字节。
	Strict bool `json:"strict"`
}

// Wrapping 标识识别出的外层封装。
type Wrapping string

const (
	WrapNone Wrapping = "none"
	WrapLZ4  Wrapping = "lz4"
	WrapZstd Wrapping = "zstd"
	WrapGzip Wrapping = "gzip"
)

var (
	lz4FrameMagic = []byte{0x04, 0x22, 0x4D, 0x18}
	zstdMagic     = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic     = []byte{0x1F, 0x8B}
)

// Sniff 按魔数判断外层封装。
func Sniff(buf []byte) Wrapping {
	switch {
	case bytes.HasPrefix(buf, lz4FrameMagic):
		return WrapLZ4
	case bytes.HasPrefix(buf, zstdMagic):
		return WrapZstd
	case bytes.HasPrefix(buf, gzipMagic):
		return WrapGzip
	default:
		return WrapNone
	}
}

// Auto 载入宿主文件并透明解开 lz4 帧 / zstd / gzip 封装，随后交给切割引擎。
type Auto struct {
	raw    *raw.Raw
	max    int64
	strict bool
	zstd   *zstd.Decoder
}

// New 创建 Auto 解码器。
func New(opts *Options) (*Auto, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	zopts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if o.MaxBytes > 0 {
		zopts = append(zopts, zstd.WithDecoderMaxMemory(uint64(o.MaxBytes)))
	}
	zd, err := zstd.NewReader(nil, zopts...)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Auto{
		raw:    raw.New(&raw.Options{MaxBytes: o.MaxBytes}),
		max:    o.MaxBytes,
		strict: o.Strict,
		zstd:   zd,
	}, nil
}

var _ contract.Decoder = (*Auto)(nil)

// Load 读入全部字节；若识别出压缩封装则返回解包后的内容。
func (d *Auto) Load(ctx context.Context, fileID contract.FileID, r io.Reader) ([]byte, error) {
	buf, err := d.raw.Load(ctx, fileID, r)
	if err != nil {
		return nil, err
	}
	kind := Sniff(buf)
	if kind == WrapNone {
		return buf, nil
	}
	out, err := d.unwrap(kind, buf)
	if err != nil {
		if d.strict {
			return nil, fmt.Errorf("%w: %s (%s): %v", contract.ErrDecode, fileID, kind, err)
		}
		return buf, nil
	}
	return out, nil
}

func (d *Auto) unwrap(kind Wrapping, buf []byte) ([]byte, error) {
	switch kind {
	case WrapLZ4:
		return d.readAll(lz4.NewReader(bytes.NewReader(buf)))
	case WrapZstd:
		return d.zstd.DecodeAll(buf, nil)
	case WrapGzip:
		zr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return d.readAll(zr)
	default:
		return buf, nil
	}
}

func (d *Auto) readAll(r io.Reader) ([]byte, error) {
	if d.max > 0 {
		r = io.LimitReader(r, d.max+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if d.max > 0 && int64(len(out)) > d.max {
		return nil, fmt.Errorf("decompressed size exceeds max_bytes %d", d.max)
	}
	return out, nil
}

// Close 释放 zstd 解码器资源。
func (d *Auto) Close() error {
	d.zstd.Close()
	return nil
}
