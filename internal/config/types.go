package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Root: 待处理的根目录（递归扫描其下所有常规文件）。
	Root string `json:"root"`
	// Formats: 依序执行的格式名（jpeg|jpg|png）；空则使用默认 [jpeg, png]。
	Formats     []string `json:"formats"`
	Concurrency int      `json:"concurrency"`
	// FailFast: 任一文件失败即中止运行；nil 表示未设置（默认 false：跳过失败文件）。
	FailFast *bool   `json:"fail_fast,omitempty"`
	Logging  Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader   string `json:"reader"`
	Decoder  string `json:"decoder"`
	Writer   string `json:"writer"`
	Manifest string `json:"manifest"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader   json.RawMessage `json:"reader,omitempty"`
	Decoder  json.RawMessage `json:"decoder,omitempty"`
	Writer   json.RawMessage `json:"writer,omitempty"`
	Manifest json.RawMessage `json:"manifest,omitempty"`
}

// FailFastValue 返回生效的 fail_fast。
func (c Config) FailFastValue() bool { return c.FailFast != nil && *c.FailFast }
