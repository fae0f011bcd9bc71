package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "imgcarve/internal/config"
	"imgcarve/internal/diag"
	"imgcarve/internal/pipeline"
)

func jpegBlob(tag string) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	b = append(b, "JFIF"...)
	b = append(b, tag...)
	return append(b, 0xFF, 0xD9)
}

func pngBlob(tag string) []byte {
	b := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}
	b = append(b, "IHDR"...)
	b = append(b, tag...)
	return append(b, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82)
}

// chdirTemp 切到临时目录（日志目录 logs/ 落在此处），返回该目录。
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func mkRoot(t *testing.T, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "dumps")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	host := bytes.Join([][]byte{[]byte("hdr"), jpegBlob("a"), []byte("gap"), pngBlob("b"), jpegBlob("c")}, nil)
	if err := os.WriteFile(filepath.Join(root, "save.dat"), host, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return root
}

func stubRun(t *testing.T, fn func(set pipeline.Settings) (pipeline.Summary, error)) *bool {
	t.Helper()
	called := false
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Summary, error) {
		called = true
		return fn(set)
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &called
}

func TestWriteConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "c.json")
	if err := writeConfig(p, cfgpkg.DefaultTemplateConfig()); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var c cfgpkg.Config
	if err := json.Unmarshal(b, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Components.Decoder != "raw" || len(c.Formats) != 2 {
		t.Fatalf("unexpected template: %+v", c)
	}
	// 不覆盖
	if err := writeConfig(p, cfgpkg.DefaultTemplateConfig()); err == nil {
		t.Fatalf("expected error on existing file")
	}
}

func TestDumpConfig(t *testing.T) {
	old := os.Stderr
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()
	if err := dumpConfig(cfgpkg.Defaults()); err != nil {
		t.Fatalf("dump: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	content := "# c\n\nexport IMGCARVE_TEST_A=\"x y\"\nIMGCARVE_TEST_B='z'\nIMGCARVE_TEST_C=keep\nbroken\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("IMGCARVE_TEST_C", "orig")
	t.Setenv("IMGCARVE_TEST_A", "")
	os.Unsetenv("IMGCARVE_TEST_A")
	t.Setenv("IMGCARVE_TEST_B", "")
	os.Unsetenv("IMGCARVE_TEST_B")
	if err := loadDotEnv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("IMGCARVE_TEST_A") != "x y" || os.Getenv("IMGCARVE_TEST_B") != "z" {
		t.Fatalf("values not loaded: %q %q", os.Getenv("IMGCARVE_TEST_A"), os.Getenv("IMGCARVE_TEST_B"))
	}
	if os.Getenv("IMGCARVE_TEST_C") != "orig" {
		t.Fatalf("existing env overwritten")
	}
	if err := loadDotEnv(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestPromptRoot(t *testing.T) {
	var out bytes.Buffer
	if got := promptRoot(strings.NewReader("  \"/data/dumps\"  \n"), &out); got != "/data/dumps" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(out.String(), "请输入要处理的文件夹路径") {
		t.Fatalf("prompt missing: %q", out.String())
	}
	if got := promptRoot(strings.NewReader(""), &out); got != "" {
		t.Fatalf("eof should give empty, got %q", got)
	}
	if got := promptRoot(nil, &out); got != "" {
		t.Fatalf("nil stdin should give empty")
	}
}

func TestRunInitConfig(t *testing.T) {
	dir := chdirTemp(t)
	outDir := filepath.Join(dir, "out")
	if code := run(context.Background(), []string{"imgcarve", "--init-config=" + outDir}, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(outDir, cfgpkg.DefaultConfigFile)); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
	env, err := os.ReadFile(filepath.Join(outDir, ".env"))
	if err != nil {
		t.Fatalf(".env not generated: %v", err)
	}
	if !strings.Contains(string(env), "IMGCARVE_ROOT=") {
		t.Fatalf(".env template: %s", env)
	}
	// 再次生成：配置已存在 → 失败
	if code := run(context.Background(), []string{"imgcarve", "--init-config=" + outDir}, nil); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	dir := chdirTemp(t)
	if code := run(context.Background(), []string{"imgcarve", "--init-config"}, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, cfgpkg.DefaultConfigFile)); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	code := run(context.Background(), []string{"imgcarve", "--status=false", "--manifest", "jsonl", root}, nil)
	if code != 0 {
		t.Fatalf("run return %d", code)
	}
	for _, name := range []string{"save_0.jpg", "save_1.jpg", "save_0.png"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	got, _ := os.ReadFile(filepath.Join(root, "save_0.png"))
	if !bytes.Equal(got, pngBlob("b")) {
		t.Fatalf("png payload mismatch")
	}
	m, err := os.ReadFile(filepath.Join(root, "imgcarve-manifest.jsonl"))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if n := bytes.Count(m, []byte("\n")); n != 3 {
		t.Fatalf("manifest lines = %d", n)
	}
}

func TestRunPromptsForRoot(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	var got []string
	called := stubRun(t, func(set pipeline.Settings) (pipeline.Summary, error) {
		got = set.Inputs
		return pipeline.Summary{}, nil
	})
	if code := run(context.Background(), []string{"imgcarve", "--status=false"}, strings.NewReader(root+"\n")); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called || len(got) != 1 || got[0] != root {
		t.Fatalf("inputs = %v", got)
	}
}

func TestRunMissingRoot(t *testing.T) {
	chdirTemp(t)
	called := stubRun(t, func(pipeline.Settings) (pipeline.Summary, error) { return pipeline.Summary{}, nil })
	old := os.Stderr
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()

	if code := run(context.Background(), []string{"imgcarve"}, strings.NewReader("")); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if code := run(context.Background(), []string{"imgcarve", "no-such-dir"}, nil); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if *called {
		t.Fatalf("pipeline should not run")
	}
}

func TestRunCLIOverrides(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	var got pipeline.Settings
	stubRun(t, func(set pipeline.Settings) (pipeline.Summary, error) {
		got = set
		return pipeline.Summary{}, nil
	})
	t.Setenv("IMGCARVE_CONCURRENCY", "2")
	args := []string{"imgcarve", "--status=false", "-f", "png", "-j", "5", "--fail-fast", root}
	if code := run(context.Background(), args, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Concurrency != 5 || !got.FailFast {
		t.Fatalf("settings = %+v", got)
	}
	if len(got.Formats) != 1 || got.Formats[0].Name != "png" {
		t.Fatalf("formats = %+v", got.Formats)
	}
}

func TestRunConfigSources(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	var got pipeline.Settings
	stubRun(t, func(set pipeline.Settings) (pipeline.Summary, error) {
		got = set
		return pipeline.Summary{}, nil
	})

	// 默认配置文件 ./imgcarve.json
	if err := os.WriteFile(cfgpkg.DefaultConfigFile, []byte(`{"root": "dumps", "concurrency": 3}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := run(context.Background(), []string{"imgcarve", "--status=false"}, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Concurrency != 3 {
		t.Fatalf("default file not used: %+v", got)
	}

	// YAML 经 --config
	y := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(y, []byte("root: "+root+"\nformats: [jpeg]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := run(context.Background(), []string{"imgcarve", "--status=false", "--config", y}, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if len(got.Formats) != 1 || got.Formats[0].Name != "jpeg" {
		t.Fatalf("yaml not used: %+v", got.Formats)
	}

	// ENV JSON 优先于文件
	t.Setenv("IMGCARVE_CONFIG_JSON", `{"root": "dumps", "concurrency": 7}`)
	if code := run(context.Background(), []string{"imgcarve", "--status=false"}, nil); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Concurrency != 7 {
		t.Fatalf("env json not used: %+v", got)
	}
}

func TestRunConfigErrors(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	old := os.Stderr
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()

	cases := map[string][]string{
		"missing file":   {"imgcarve", "--config", filepath.Join(dir, "nope.json"), root},
		"unknown format": {"imgcarve", "-f", "gif", root},
		"bad decoder":    {"imgcarve", "--decoder", "nope", root},
		"bad flag":       {"imgcarve", "--nope", root},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if code := run(context.Background(), args, nil); code != exitConfig {
				t.Fatalf("expected %d, got %d", exitConfig, code)
			}
		})
	}
}

func TestRunPipelineError(t *testing.T) {
	dir := chdirTemp(t)
	root := mkRoot(t, dir)
	stubRun(t, func(pipeline.Settings) (pipeline.Summary, error) {
		return pipeline.Summary{Files: 1, Failed: 1}, errors.New("boom")
	})
	old := os.Stderr
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()

	if code := run(context.Background(), []string{"imgcarve", "--status=false", root}, nil); code != exitFailed {
		t.Fatalf("expected %d, got %d", exitFailed, code)
	}
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgpkg.Defaults()
	cfg.Root = dir
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("root dir: %v", err)
	}
	cfg.Options.Writer = json.RawMessage(`{"output_dir": "` + filepath.ToSlash(filepath.Join(dir, "new")) + `"}`)
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("missing dir with writable parent: %v", err)
	}
	f := filepath.Join(dir, "file")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Options.Writer = json.RawMessage(`{"output_dir": "` + filepath.ToSlash(f) + `"}`)
	if err := preflightCheckOutputDir(cfg); err == nil {
		t.Fatalf("expected error for file path")
	}
}
