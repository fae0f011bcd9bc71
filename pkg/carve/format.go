// Package carve 基于字节签名从任意宿主缓冲区中切割出内嵌的 JPEG/PNG 图像。
//
// 每种格式由 FormatSpec 描述：起始标记、结束标记、必须出现在区间内部的标记，
// 以及处理完一个候选后扫描游标的推进规则。扫描本身是纯计算，不做 I/O。
package carve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat: 请求了未内置的格式名。
var ErrUnknownFormat = errors.New("unknown format")

// AdvancePolicy 决定处理完一个候选区间（无论是否通过校验）后游标的位置。
type AdvancePolicy int

const (
	// AdvanceFromEnd: cursor = 结束标记起点 + 1。
	// 同一段结束标记字节理论上仍可被后续搜索再次命中。
	AdvanceFromEnd AdvancePolicy = iota
	// AdvanceFromStart: cursor = 起始标记起点 + len(Start)。
	// 同一结束标记可能与更靠后的起始标记再次配对，产出重叠区间。
	AdvanceFromStart
)

func (p AdvancePolicy) String() string {
	switch p {
	case AdvanceFromEnd:
		return "from_end"
	case AdvanceFromStart:
		return "from_start"
	default:
		return fmt.Sprintf("advance(%d)", int(p))
	}
}

// EmitPolicy 决定编排层何时把资产交给 Writer；不影响编号与内容。
type EmitPolicy int

const (
	// EmitAfterScan: 先扫描完整个缓冲区收集结果，再依序写出。
	EmitAfterScan EmitPolicy = iota
	// EmitDuringScan: 每通过一次校验立即写出，与扫描交错进行。
	EmitDuringScan
)

func (p EmitPolicy) String() string {
	switch p {
	case EmitAfterScan:
		return "after_scan"
	case EmitDuringScan:
		return "during_scan"
	default:
		return fmt.Sprintf("emit(%d)", int(p))
	}
}

// FormatSpec 为单一格式的只读常量集合。
// 调用方不得修改各标记切片；需要独立副本时使用 Clone。
type FormatSpec struct {
	Name     string
	Ext      string
	Start    []byte
	End      []byte
	Interior []byte
	Advance  AdvancePolicy
	Emit     EmitPolicy
}

// Clone 返回标记字节互不共享的副本。
func (f FormatSpec) Clone() FormatSpec {
	out := f
	out.Start = append([]byte(nil), f.Start...)
	out.End = append([]byte(nil), f.End...)
	out.Interior = append([]byte(nil), f.Interior...)
	return out
}

// MinLen 为任一合法资产的最小字节数（起止标记不重叠时）。
func (f FormatSpec) MinLen() int { return len(f.Start) + len(f.End) }

var (
	// JPEG: SOI + APP0 起始，EOI 结束，区间内必须含 "JFIF"。
	JPEG = FormatSpec{
		Name:     "jpeg",
		Ext:      "jpg",
		Start:    []byte{0xFF, 0xD8, 0xFF, 0xE0},
		End:      []byte{0xFF, 0xD9},
		Interior: []byte("JFIF"),
		Advance:  AdvanceFromEnd,
		Emit:     EmitAfterScan,
	}
	// PNG: 签名前 4 字节起始，IEND 块（长度 0 + 类型 + CRC）结束，区间内必须含 "IHDR"。
	PNG = FormatSpec{
		Name:     "png",
		Ext:      "png",
		Start:    []byte{0x89, 0x50, 0x4E, 0x47},
		End:      []byte{0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82},
		Interior: []byte("IHDR"),
		Advance:  AdvanceFromStart,
		Emit:     EmitDuringScan,
	}
)

// Formats 返回内置格式（按默认处理顺序），每项均为独立副本。
func Formats() []FormatSpec {
	return []FormatSpec{JPEG.Clone(), PNG.Clone()}
}

// Names 返回内置格式名（按默认处理顺序）。
func Names() []string { return []string{JPEG.Name, PNG.Name} }

// Lookup 按名称查找内置格式（大小写不敏感，接受扩展名别名 jpg）。
func Lookup(name string) (FormatSpec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "jpeg", "jpg":
		return JPEG.Clone(), nil
	case "png":
		return PNG.Clone(), nil
	default:
		return FormatSpec{}, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// LookupAll 依序解析多个格式名；重复项只保留首次出现。
func LookupAll(names []string) ([]FormatSpec, error) {
	out := make([]FormatSpec, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		f, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}
