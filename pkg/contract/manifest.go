package contract

import "context"

// ManifestEntry: 一条已写出资产的记录。
type ManifestEntry struct {
	Host   FileID `json:"host" cbor:"host"`
	Format string `json:"format" cbor:"format"`
	Index  int    `json:"index" cbor:"index"`
	Name   string `json:"name" cbor:"name"`
	Offset int64  `json:"offset" cbor:"offset"`
	Size   int64  `json:"size" cbor:"size"`
	// Digest: 载荷的 BLAKE3-256 十六进制摘要。
	Digest string `json:"blake3" cbor:"blake3"`
}

// Manifest: 资产清单（可选组件）。Record 按写出顺序调用；并发调用需由实现自行串行化。
type Manifest interface {
	Record(ctx context.Context, e ManifestEntry) error
	Close() error
}
