package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imgcarve/internal/pipeline"
	"imgcarve/pkg/carve"
	"imgcarve/pkg/contract"
	"imgcarve/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
// 根目录必须存在且为目录；格式名与组件名必须可解析。
func Validate(cfg Config) error {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return errors.New("config: root not set")
	}
	st, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("config: root %q: %w", root, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("config: root %q is not a directory", root)
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if _, err := carve.LookupAll(effFormats(cfg.Formats)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Manifest, d.Manifest); registry.Manifest[name] == nil {
		return fmt.Errorf("config: manifest %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处仅补齐 output_dir 与 exclude_paths 两个派生键。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	root := filepath.Clean(strings.TrimSpace(cfg.Root))
	formats, err := carve.LookupAll(effFormats(cfg.Formats))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 输出目录缺省为根目录（资产与宿主同处）
	wopts, outDir, err := withOutputDir(cfg.Options.Writer, root)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer options: %w", err)
	}
	// 输出目录位于根下的独立子目录时，避免下次运行把旧资产当作宿主
	ropts := cfg.Options.Reader
	if sub, ok := subdirOf(root, outDir); ok {
		ropts, err = withExcludePath(ropts, sub)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader options: %w", err)
		}
	}

	d := Defaults().Components
	m, err := registry.Manifest[effName(cfg.Components.Manifest, d.Manifest)](cfg.Options.Manifest, outDir)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	// 清单文件本身不作为宿主
	if pm, ok := m.(interface{ Path() string }); ok {
		ropts, err = withExcludePath(ropts, pm.Path())
		if err != nil {
			closeManifest(m)
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader options: %w", err)
		}
	}
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](ropts)
	if err != nil {
		closeManifest(m)
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		closeManifest(m)
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](wopts)
	if err != nil {
		closeManifest(m)
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	comp := pipeline.Components{Reader: r, Decoder: dec, Writer: w, Manifest: m}
	set := pipeline.Settings{
		Inputs:      []string{root},
		Formats:     formats,
		Concurrency: cfg.Concurrency,
		FailFast:    cfg.FailFastValue(),
	}
	return comp, set, nil
}

// withOutputDir 在 writer options 缺少 output_dir 时填入 root；返回生效的输出目录。
func withOutputDir(raw json.RawMessage, root string) (json.RawMessage, string, error) {
	obj, err := rawObject(raw)
	if err != nil {
		return nil, "", err
	}
	var out string
	if v, ok := obj["output_dir"]; ok {
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, "", fmt.Errorf("output_dir: %w", err)
		}
	}
	if strings.TrimSpace(out) == "" {
		out = root
	}
	out = filepath.Clean(out)
	b, _ := json.Marshal(out)
	obj["output_dir"] = b
	enc, err := json.Marshal(obj)
	return enc, out, err
}

// ExcludePath 让 Reader 跳过 p（例如位于根目录下的日志目录）。
func (c *Config) ExcludePath(p string) error {
	raw, err := withExcludePath(c.Options.Reader, p)
	if err != nil {
		return fmt.Errorf("config: reader options: %w", err)
	}
	c.Options.Reader = raw
	return nil
}

// withExcludePath 在 reader options 的 exclude_paths 末尾追加 p。
func withExcludePath(raw json.RawMessage, p string) (json.RawMessage, error) {
	obj, err := rawObject(raw)
	if err != nil {
		return nil, err
	}
	var paths []string
	if v, ok := obj["exclude_paths"]; ok {
		if err := json.Unmarshal(v, &paths); err != nil {
			return nil, fmt.Errorf("exclude_paths: %w", err)
		}
	}
	paths = append(paths, p)
	b, _ := json.Marshal(paths)
	obj["exclude_paths"] = b
	return json.Marshal(obj)
}

func rawObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return obj, nil
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, nil
}

// subdirOf 报告 dir 是否为 root 之下（不等于 root）的目录。
func subdirOf(root, dir string) (string, bool) {
	ar, err1 := filepath.Abs(root)
	ad, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil || ar == ad {
		return "", false
	}
	rel, err := filepath.Rel(ar, ad)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return ad, true
}

func effFormats(in []string) []string {
	if len(in) == 0 {
		return Defaults().Formats
	}
	return in
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

func closeManifest(m contract.Manifest) {
	if m != nil {
		_ = m.Close()
	}
}
