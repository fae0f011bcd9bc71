package registry

import (
	"bytes"
	"encoding/json"

	"imgcarve/pkg/contract"
	dauto "imgcarve/plugins/decoder/auto"
	draw "imgcarve/plugins/decoder/raw"
	mcbor "imgcarve/plugins/manifest/cborseq"
	mjsonl "imgcarve/plugins/manifest/jsonl"
	rfs "imgcarve/plugins/reader/filesystem"
	wfs "imgcarve/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewManifest 工厂签名：接收原样 JSON Options 与输出目录。
// 返回 (nil, nil) 表示不记录清单。
type NewManifest func(raw json.RawMessage, outputDir string) (contract.Manifest, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统 Reader（目录递归，稳定顺序）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// raw: 原样载入
	"raw": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts draw.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return draw.New(&opts), nil
	},
	// auto: 识别 lz4/zstd/gzip 外层封装并解包
	"auto": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts dauto.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dauto.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Manifest 工厂注册表。
var Manifest = map[string]NewManifest{
	"none": func(raw json.RawMessage, _ string) (contract.Manifest, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return nil, nil
	},
	"jsonl": func(raw json.RawMessage, outputDir string) (contract.Manifest, error) {
		var opts mjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mjsonl.New(&opts, outputDir)
	},
	"cbor": func(raw json.RawMessage, outputDir string) (contract.Manifest, error) {
		var opts mcbor.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mcbor.New(&opts, outputDir)
	},
}
