package contract

import (
	"context"
	"io"
)

// Writer: 将单个资产以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 后写覆盖先写；
//  2. 按字节透传，不读取/修改内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
