package carve

import "bytes"

// NotFound 为 Find 未命中时的返回值；属于正常的终止信号，而非错误。
const NotFound = -1

// Find 返回 buf 中不小于 from 的、marker 完整匹配的最低偏移。
// 约束：
//   - from 不在 [0, len(buf)] 内、marker 为空或 len(marker) > len(buf)-from 时返回 NotFound；
//   - 逐字节精确匹配，无副作用，任何输入都不会越界。
func Find(buf, marker []byte, from int) int {
	if len(marker) == 0 || from < 0 || from > len(buf) || len(marker) > len(buf)-from {
		return NotFound
	}
	i := bytes.Index(buf[from:], marker)
	if i < 0 {
		return NotFound
	}
	return from + i
}

// contains 判断 marker 是否完整落在候选区间 [c.Start, c.End) 内。
func contains(buf []byte, c Candidate, marker []byte) bool {
	if c.End > len(buf) || c.Start < 0 || c.Start > c.End {
		return false
	}
	return Find(buf[:c.End], marker, c.Start) != NotFound
}
