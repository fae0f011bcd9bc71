package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "IMGCARVE_"

// DefaultConfigFile: 当前目录下自动加载的配置文件名。
const DefaultConfigFile = "imgcarve.json"

// Defaults 返回带有安全默认值的 Config 雏形。
// Root 不设默认（由参数/ENV/配置/交互输入提供）。
func Defaults() Config {
	f := false
	return Config{
		Formats:     []string{"jpeg", "png"},
		Concurrency: 1,
		FailFast:    &f,
		Logging:     Logging{Level: "info"},
		Components: Components{
			Reader:   "fs",
			Decoder:  "raw",
			Writer:   "fs",
			Manifest: "none",
		},
	}
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 走 YAML，其余按 JSON（允许注释与尾逗号）。
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return LoadJSON("", data)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 输入可包含 // 与 /* */ 注释及尾逗号。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	switch {
	case len(raw) > 0:
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		raw = b
	default:
		return cfg, errors.New("no config source provided")
	}
	return decodeStrict(jsonc.ToJSON(raw))
}

// LoadYAML 解析 YAML 配置：先转为通用结构，再经 JSON 严格解码，
// 保证两种格式的字段名与未知字段规则一致。
func LoadYAML(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return Config{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	return decodeStrict(b)
}

func decodeStrict(b []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if t := strings.TrimSpace(over.Root); t != "" {
		out.Root = t
	}
	if len(over.Formats) > 0 {
		out.Formats = cloneStrings(over.Formats)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// fail_fast 的 false 具有语义，以指针区分“未设置”
	if over.FailFast != nil {
		v := *over.FailFast
		out.FailFast = &v
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Manifest != "" {
		out.Components.Manifest = over.Components.Manifest
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Manifest) > 0 {
		out.Options.Manifest = cloneRaw(over.Options.Manifest)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 IMGCARVE_；集合之外的键忽略。
// 支持：ROOT, FORMATS, CONCURRENCY, FAIL_FAST, LOG_LEVEL, COMPONENTS_*, OPTIONS_*_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := kv[eq+1:]
		switch key {
		case "ROOT":
			over.Root = strings.TrimSpace(val)
		case "FORMATS":
			over.Formats = splitComma(val)
		case "CONCURRENCY":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %sCONCURRENCY: %w", EnvPrefix, err)
			}
			over.Concurrency = v
		case "FAIL_FAST":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return over, fmt.Errorf("env %sFAIL_FAST: %w", EnvPrefix, err)
			}
			over.FailFast = &v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "COMPONENTS_MANIFEST":
			over.Components.Manifest = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = envRaw(val)
		case "OPTIONS_DECODER_JSON":
			over.Options.Decoder = envRaw(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = envRaw(val)
		case "OPTIONS_MANIFEST_JSON":
			over.Options.Manifest = envRaw(val)
		}
	}
	return over, nil
}

// envRaw: 空值视为未设置，避免清空现有配置。
func envRaw(v string) json.RawMessage {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return json.RawMessage(v)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
