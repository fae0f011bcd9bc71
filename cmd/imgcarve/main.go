package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	cfgpkg "imgcarve/internal/config"
	"imgcarve/internal/diag"
	"imgcarve/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 3
)

// imgcarve [flags] [ROOT]
// 递归扫描 ROOT 下所有文件，切割出内嵌的 JPEG/PNG 并写到输出目录（缺省为 ROOT）。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args, os.Stdin)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader) int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// 先占位默认，稍后在合并配置后按最终 level 重建
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()

	fs := pflag.NewFlagSet(filepath.Base(args[0]), pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		flagConfig      = fs.StringP("config", "c", "", "配置文件路径（JSON/JSONC/YAML）；缺省读取 ./imgcarve.json（若存在）")
		flagFormats     = fs.StringSliceP("formats", "f", nil, "依序执行的格式（jpeg,png）")
		flagConcurrency = fs.IntP("concurrency", "j", 0, "并发处理的文件数（覆盖配置）")
		flagFailFast    = fs.Bool("fail-fast", false, "任一文件失败即中止（默认跳过失败文件并继续）")
		flagLogLevel    = fs.String("log-level", "", "日志级别 debug|info|warn|error")
		flagStatus      = fs.Bool("status", true, "终端状态提示（stderr）")
		flagInitDir     = fs.String("init-config", "", "在目录生成默认配置 imgcarve.json 与 .env 模板（不覆盖）；用法 --init-config=DIR，不带值时为当前目录")
		flagManifest    = fs.String("manifest", "", "资产清单 none|jsonl|cbor")
		flagDecoder     = fs.String("decoder", "", "宿主载入方式 raw|auto（auto 识别 lz4/zstd/gzip 封装）")
	)
	fs.Lookup("init-config").NoOptDefVal = "."
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fprintf(os.Stderr, "参数解析失败: %v\n", err)
		return exitConfig
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(*flagInitDir); initDir != "" {
		if err := initConfig(initDir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init config failed", &start)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		fprintf(os.Stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "load failed", &start)
		return exitConfig
	}

	// CLI 覆盖
	var overCLI cfgpkg.Config
	if rest := fs.Args(); len(rest) > 0 {
		overCLI.Root = rest[0]
	}
	overCLI.Formats = *flagFormats
	overCLI.Concurrency = *flagConcurrency
	if fs.Changed("fail-fast") {
		overCLI.FailFast = flagFailFast
	}
	overCLI.Logging.Level = *flagLogLevel
	overCLI.Components.Manifest = strings.TrimSpace(*flagManifest)
	overCLI.Components.Decoder = strings.TrimSpace(*flagDecoder)
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 未提供根目录时交互询问
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = promptRoot(stdin, os.Stderr)
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("config", string(diag.Classify(err)), "validate failed", &start)
		return exitConfig
	}

	// 使用最终配置中的日志级别重建 logger
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		_ = logger.Close()
		logger = diag.NewLogger(corrID, lvl)
	}

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "preflight failed", &start)
		return exitConfig
	}

	// 日志目录可能落在根目录下，不作为宿主扫描
	if err := cfg.ExcludePath(diag.DefaultLogDir); err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		return exitConfig
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "assemble failed", &start)
		return exitConfig
	}
	defer closeComponents(comp, logger)

	// 终端信息提示（非日志）
	term := diag.NewTerminal(os.Stderr, *flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	names := make([]string, 0, len(set.Formats))
	for _, f := range set.Formats {
		names = append(names, f.Name)
	}
	term.RunStart(set.Concurrency, names)

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"root":        cfg.Root,
		"formats":     strings.Join(names, ","),
		"concurrency": strconv.Itoa(set.Concurrency),
		"fail_fast":   strconv.FormatBool(set.FailFast),
		"reader":      cfg.Components.Reader,
		"decoder":     cfg.Components.Decoder,
		"writer":      cfg.Components.Writer,
		"manifest":    cfg.Components.Manifest,
	})

	t := logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, logger)
	kv := diag.SnapshotKV()
	kv["files"] = strconv.Itoa(sum.Files)
	kv["failed"] = strconv.Itoa(sum.Failed)
	kv["bytes"] = strconv.FormatInt(sum.Bytes, 10)
	if err != nil {
		code := string(diag.Classify(err))
		logger.ErrorWithKV("pipeline", code, "run failed: "+err.Error(), &start, "", "", kv)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return exitFailed
	}
	for _, fe := range sum.Errors {
		fprintf(os.Stderr, "已跳过: %v\n", fe)
	}
	t.Finish("run", int64(sum.Assets))
	logger.Slog().Info("summary", "comp", "pipeline", "stage", "summary", "kv", kv)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(sum.Failed == 0, time.Since(start))
	return exitOK
}

// loadConfig 按 Defaults < 配置文件 < ENV 的顺序合并（CLI 由调用方最后覆盖）。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(cfgpkg.DefaultConfigFile); err == nil {
			path = cfgpkg.DefaultConfigFile
		}
	}
	switch {
	case len(raw) > 0:
		base, err := cfgpkg.LoadJSON("", raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	case path != "":
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	over, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, over), nil
}

// promptRoot 交互读取根目录；读不到时返回空串，由校验阶段报错。
func promptRoot(stdin io.Reader, w io.Writer) string {
	if stdin == nil {
		return ""
	}
	_, _ = io.WriteString(w, "请输入要处理的文件夹路径: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		_, _ = io.WriteString(w, "\n")
		return ""
	}
	return strings.Trim(strings.TrimSpace(line), `"'`)
}

func closeComponents(comp pipeline.Components, logger *diag.Logger) {
	if comp.Manifest != nil {
		if err := comp.Manifest.Close(); err != nil {
			logger.Error("manifest", string(diag.Classify(err)), "close failed: "+err.Error(), nil)
			fprintf(os.Stderr, "清单写入失败: %v\n", err)
		}
	}
	if c, ok := comp.Decoder.(io.Closer); ok {
		_ = c.Close()
	}
}

func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, cfgpkg.DefaultConfigFile), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// loadDotEnv 把 KEY=VALUE 行注入进程环境；已存在的变量优先，文件不存在视为空。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				val = val[1 : len(val)-1]
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# imgcarve .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"ROOT", "FORMATS", "CONCURRENCY", "FAIL_FAST", "LOG_LEVEL"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择与选项\n")
	for _, c := range []string{"READER", "DECODER", "WRITER", "MANIFEST"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + c + "=\n")
	}
	for _, c := range []string{"READER", "DECODER", "WRITER", "MANIFEST"} {
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + c + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir 在切割开始前确认输出目录（缺省为根目录）可写；
// 目录尚不存在时改查父目录。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = cfg.Root
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
