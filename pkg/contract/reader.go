package contract

import (
	"context"
	"io"
)

// Reader: 宿主文件枚举。
// 约束：
// 1) 按文件维度回调，顺序稳定；
// 2) FileID 稳定且去平台差异化；
// 3) 不做解码/业务解析，仅提供字节流；
// 4) 不在内部起并发；rc 由 yield 的调用方负责关闭。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, rc io.ReadCloser) error) error
}
