package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - root 留空（运行时由参数或交互输入提供）；
// - 组件名采用仓库内置实现；
// - 选项包含全部键，给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Root:        "",
		Formats:     d.Formats,
		Concurrency: d.Concurrency,
		FailFast:    d.FailFast,
		Logging:     Logging{Level: "info"},
		Components:  d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [],
  "exclude_exts": [],
  "exclude_paths": []
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "max_bytes": 0
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	// manifest=none 无配置项；切换为 jsonl/cbor 时可填 {"path": ""}
	cfg.Options.Manifest = json.RawMessage(`{}`)
	return cfg
}
