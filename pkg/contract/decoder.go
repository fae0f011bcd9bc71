package contract

import (
	"context"
	"io"
)

// Decoder: 将单个宿主文件的字节流整体载入为只读缓冲区。
// 约束：
// 1) 一次性读完（整文件驻留内存）；
// 2) 可选地解开外层封装（压缩等），但不做格式解析；
// 3) 返回的缓冲区在切割期间不得被修改。
type Decoder interface {
	Load(ctx context.Context, fileID FileID, r io.Reader) ([]byte, error)
}
