package carve

import (
	"bytes"
	"iter"
	"strconv"
)

// Candidate: 缓冲区内的半开区间 [Start, End)，End 已包含结束标记。
type Candidate struct {
	Start int
	End   int
}

// Len 返回区间字节数。
func (c Candidate) Len() int { return c.End - c.Start }

// Asset: 通过校验的候选区间的独立副本。
// Index 在同一宿主文件、同一格式内自 0 严格递增（发现顺序）。
type Asset struct {
	Index   int
	Format  string
	Ext     string
	Offset  int
	Payload []byte
}

// Name 生成输出文件名：{base}_{index}.{ext}。
func (a Asset) Name(base string) string {
	return base + "_" + strconv.Itoa(a.Index) + "." + a.Ext
}

// Candidate 返回资产在宿主缓冲区中的区间。
func (a Asset) Candidate() Candidate {
	return Candidate{Start: a.Offset, End: a.Offset + len(a.Payload)}
}

// Stats: 单次扫描的计数。
type Stats struct {
	// Examined: 已配对出起止标记的候选数（含未通过校验的）。
	Examined int
	// Rejected: 缺少内部标记而被丢弃的候选数。
	Rejected int
	// Unterminated: 其后不存在结束标记的起始标记数。
	Unterminated int
}

// Scanner 将 (缓冲区, FormatSpec) 转为通过校验的候选区间序列。
// 惰性、有限、不可重启；缓冲区在扫描期间只读。不得并发调用。
type Scanner struct {
	buf  []byte
	spec FormatSpec

	cursor int
	// noEndFrom: 已知从该偏移起不存在结束标记；-1 表示尚未得知。
	noEndFrom int
	next      int

	cur      Candidate
	curIndex int
	stats    Stats
	done     bool
}

// NewScanner 构造扫描器；buf 在扫描结束前不得被修改。
func NewScanner(buf []byte, spec FormatSpec) *Scanner {
	return &Scanner{buf: buf, spec: spec, noEndFrom: -1, curIndex: -1}
}

// Next 前进到下一个通过校验的候选；序列结束时返回 false，此后恒为 false。
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	for s.cursor <= len(s.buf)-len(s.spec.Start) {
		start := Find(s.buf, s.spec.Start, s.cursor)
		if start == NotFound {
			break
		}
		end := s.findEnd(start)
		if end == NotFound {
			// 未闭合的起始标记只跳过一个字节，允许重叠的标记字节被重试。
			s.stats.Unterminated++
			s.cursor = start + 1
			continue
		}
		c := Candidate{Start: start, End: end + len(s.spec.End)}
		s.stats.Examined++
		s.cursor = s.advance(start, end)
		if !contains(s.buf, c, s.spec.Interior) {
			s.stats.Rejected++
			continue
		}
		s.cur = c
		s.curIndex = s.next
		s.next++
		return true
	}
	s.done = true
	s.cur = Candidate{}
	s.curIndex = -1
	return false
}

// findEnd 自 from 起查找结束标记。
// 起点单调不减，一旦某次查找落空，之后的查找必然落空，直接复用结果。
func (s *Scanner) findEnd(from int) int {
	if s.noEndFrom >= 0 && from >= s.noEndFrom {
		return NotFound
	}
	e := Find(s.buf, s.spec.End, from)
	if e == NotFound && s.noEndFrom < 0 {
		s.noEndFrom = from
	}
	return e
}

func (s *Scanner) advance(start, end int) int {
	if s.spec.Advance == AdvanceFromStart {
		return start + len(s.spec.Start)
	}
	return end + 1
}

// Candidate 返回当前候选；仅在 Next 返回 true 后有效。
func (s *Scanner) Candidate() Candidate { return s.cur }

// Index 返回当前候选的序号；Next 尚未成功时为 -1。
func (s *Scanner) Index() int { return s.curIndex }

// Asset 返回当前候选的资产（载荷为拷贝，与缓冲区不共享底层数组）。
func (s *Scanner) Asset() Asset {
	return Asset{
		Index:   s.curIndex,
		Format:  s.spec.Name,
		Ext:     s.spec.Ext,
		Offset:  s.cur.Start,
		Payload: bytes.Clone(s.buf[s.cur.Start:s.cur.End]),
	}
}

// Stats 返回截至目前的扫描计数。
func (s *Scanner) Stats() Stats { return s.stats }

// Spec 返回扫描器使用的格式。
func (s *Scanner) Spec() FormatSpec { return s.spec }

// Candidates 以迭代器形式产出通过校验的候选区间；每次遍历都是一次全新扫描。
func Candidates(buf []byte, spec FormatSpec) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		sc := NewScanner(buf, spec)
		for sc.Next() {
			if !yield(sc.Candidate()) {
				return
			}
		}
	}
}

// Assets 以迭代器形式产出资产（载荷为拷贝）。
func Assets(buf []byte, spec FormatSpec) iter.Seq[Asset] {
	return func(yield func(Asset) bool) {
		sc := NewScanner(buf, spec)
		for sc.Next() {
			if !yield(sc.Asset()) {
				return
			}
		}
	}
}

// Carve 一次性收集全部资产。
func Carve(buf []byte, spec FormatSpec) []Asset {
	var out []Asset
	for a := range Assets(buf, spec) {
		out = append(out, a)
	}
	return out
}
