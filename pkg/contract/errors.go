package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 调用参数或配置不满足前置条件。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrDecode: 宿主内容解包失败（压缩流损坏等）。
	ErrDecode = errors.New("decode failed")
)

// IOError: 读取宿主文件或写出资产时的 I/O 失败。
// Op 取值 read|write|walk|open；Path 为出错的文件路径或资产标识。
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WrapIO 将 err 包装为 *IOError；nil 原样返回，已是 *IOError 的不重复包装。
func WrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
