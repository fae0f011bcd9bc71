package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"imgcarve/internal/diag"
	"imgcarve/pkg/carve"
	"imgcarve/pkg/contract"
	"imgcarve/plugins/manifest"
)

// - 单点并发：仅此层管理并发与背压；Reader/Decoder/Writer 均为同步实现。
// - 文件内顺序：一个宿主文件只由一个 worker 处理，资产按格式顺序、格式内按编号依次写出。
// - 失败策略：FailFast 时首错取消整体；否则记录并跳过失败文件，继续其余文件。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader  contract.Reader
	Decoder contract.Decoder
	Writer  contract.Writer
	// Manifest 可选；nil 表示不记录清单。
	Manifest contract.Manifest
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 输入根；资产标识按相对输入根的路径生成
	Inputs []string
	// 依序对每个宿主文件执行的格式
	Formats     []carve.FormatSpec
	Concurrency int
	// FailFast: 任一文件失败即取消整个运行
	FailFast bool
}

// FileError 单个宿主文件的失败记录。
type FileError struct {
	FileID contract.FileID
	Err    error
}

func (e FileError) Error() string { return string(e.FileID) + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// Summary 运行汇总。
type Summary struct {
	Files  int
	Failed int
	Assets int
	Bytes  int64
	// PerFormat: 各格式写出的资产数
	PerFormat map[string]int
	// Errors: 被跳过的文件（仅 FailFast=false 时非空）
	Errors []FileError
}

type job struct {
	fid contract.FileID
	rc  io.ReadCloser
}

// fileResult 单个宿主文件的产出。
type fileResult struct {
	assets    int
	bytes     int64
	perFormat map[string]int
}

// Run 执行完整流水线：Reader → Decoder → CarveEngine(每个格式) → Writer (+Manifest)。
// 返回的 Summary 总是反映已完成的工作，即便 err 非空。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	sum := Summary{PerFormat: make(map[string]int)}
	if err := sanity(comp, &set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
	)
	record := func(fid contract.FileID, res fileResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		sum.Files++
		sum.Assets += res.assets
		sum.Bytes += res.bytes
		for k, v := range res.perFormat {
			sum.PerFormat[k] += v
		}
		if err == nil {
			return
		}
		// 运行已被取消时，后续文件的取消错误不单独计入
		if ctx.Err() != nil && diag.Classify(err) == diag.CodeCancel {
			return
		}
		sum.Failed++
		if set.FailFast {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", fid, err)
				cancel()
			}
			return
		}
		sum.Errors = append(sum.Errors, FileError{FileID: fid, Err: err})
		logger.WarnWith("pipeline", string(diag.Classify(err)), "file skipped: "+err.Error(), string(fid))
	}

	jobs := make(chan job, set.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < set.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					// 已取消：排空队列，释放句柄
					_ = j.rc.Close()
					continue
				}
				res, err := processFile(ctx, comp, set, logger, j.fid, j.rc)
				record(j.fid, res, err)
			}
		}()
	}

	rtimer := logger.Start("reader", "iterate")
	iterErr := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		select {
		case jobs <- job{fid: fid, rc: rc}:
			return nil
		case <-ctx.Done():
			_ = rc.Close()
			return ctx.Err()
		}
	})
	close(jobs)
	wg.Wait()

	mu.Lock()
	ferr := firstErr
	mu.Unlock()
	if ferr != nil {
		logger.Error("pipeline", string(diag.Classify(ferr)), "first error", nil)
		diag.IncOp("pipeline", "run", "error")
		return sum, ferr
	}
	// 外部取消
	if err := ctx.Err(); err != nil {
		logger.Error("pipeline", string(diag.CodeCancel), "run canceled", nil)
		return sum, err
	}
	if iterErr != nil {
		code := diag.Classify(iterErr)
		logger.ErrorWith("reader", string(code), "iterate failed", rtimer.Since(), "", "")
		diag.IncOp("reader", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("reader", string(code))
		}
		return sum, fmt.Errorf("reader iterate: %w", iterErr)
	}
	rtimer.Finish("iterate", int64(sum.Files))
	diag.IncOp("reader", "finish", "success")
	return sum, nil
}

// processFile 载入一个宿主文件，并依序对每种格式执行切割与写出。
func processFile(ctx context.Context, comp Components, set Settings, logger *diag.Logger, fid contract.FileID, rc io.ReadCloser) (res fileResult, err error) {
	defer rc.Close()
	res.perFormat = make(map[string]int, len(set.Formats))

	tm := diag.GetTerminal()
	tm.FileStart(string(fid))
	fileStart := time.Now()
	defer func() {
		tm.FileFinish(string(fid), res.assets, err == nil, time.Since(fileStart))
		tm.Progress()
		if err == nil {
			diag.IncOp("pipeline", "file", "success")
		} else {
			diag.IncOp("pipeline", "file", "error")
		}
		diag.ObserveDuration("pipeline", "file", time.Since(fileStart).Milliseconds())
	}()

	dtimer := logger.StartWith("decoder", "load", string(fid), "")
	buf, err := comp.Decoder.Load(ctx, fid, rc)
	if err != nil {
		fail(logger, "decoder", "load failed", err, dtimer, fid, "")
		return res, fmt.Errorf("decoder load: %w", err)
	}
	dtimer.Finish("load", int64(len(buf)))
	diag.IncOp("decoder", "finish", "success")

	base := contract.BaseName(fid)
	dir := relDir(set.Inputs, fid)
	for _, spec := range set.Formats {
		n, b, err := carveFormat(ctx, comp, logger, fid, base, dir, buf, spec)
		res.assets += n
		res.bytes += b
		res.perFormat[spec.Name] += n
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// carveFormat 对单一格式扫描并写出；编号在本次调用内自 0 开始。
func carveFormat(ctx context.Context, comp Components, logger *diag.Logger, fid contract.FileID, base, dir string, buf []byte, spec carve.FormatSpec) (n int, size int64, err error) {
	ctimer := logger.StartWith("carve", "scan", string(fid), spec.Name)
	sc := carve.NewScanner(buf, spec)

	emit := func(a carve.Asset) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emitAsset(ctx, comp, logger, fid, base, dir, a); err != nil {
			return err
		}
		n++
		size += int64(len(a.Payload))
		return nil
	}

	switch spec.Emit {
	case carve.EmitDuringScan:
		for sc.Next() {
			if err := emit(sc.Asset()); err != nil {
				return n, size, err
			}
		}
	default:
		var assets []carve.Asset
		for sc.Next() {
			assets = append(assets, sc.Asset())
		}
		for _, a := range assets {
			if err := emit(a); err != nil {
				return n, size, err
			}
		}
	}

	st := sc.Stats()
	logger.DebugStart("carve", "stats", string(fid), spec.Name, map[string]string{
		"examined":     strconv.Itoa(st.Examined),
		"rejected":     strconv.Itoa(st.Rejected),
		"unterminated": strconv.Itoa(st.Unterminated),
	})
	ctimer.Finish("scan", int64(n))
	return n, size, nil
}

func emitAsset(ctx context.Context, comp Components, logger *diag.Logger, fid contract.FileID, base, dir string, a carve.Asset) error {
	name := a.Name(base)
	id := contract.ArtifactID(path.Join(dir, name))
	wtimer := logger.StartWith("writer", "write", string(fid), a.Format)
	if err := comp.Writer.Write(ctx, id, bytes.NewReader(a.Payload)); err != nil {
		fail(logger, "writer", "write failed", err, wtimer, fid, a.Format)
		return fmt.Errorf("writer write %s: %w", id, err)
	}
	wtimer.Finish("write", int64(len(a.Payload)))
	diag.IncOp("writer", "finish", "success")
	diag.AddAsset(a.Format, int64(len(a.Payload)))
	diag.GetTerminal().AssetSaved(string(id), int64(len(a.Payload)))

	if comp.Manifest != nil {
		e := manifest.Entry(fid, a.Format, a.Index, string(id), a.Offset, a.Payload)
		if err := comp.Manifest.Record(ctx, e); err != nil {
			fail(logger, "manifest", "record failed", err, nil, fid, a.Format)
			return fmt.Errorf("manifest record %s: %w", id, err)
		}
	}
	return nil
}

func fail(logger *diag.Logger, comp, msg string, err error, t *diag.Timer, fid contract.FileID, format string) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), msg+": "+err.Error(), t.Since(), string(fid), format)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// relDir 返回宿主文件相对其输入根的目录（"/" 分隔）；不在任何根下时为 ""。
func relDir(roots []string, fid contract.FileID) string {
	p := filepath.FromSlash(string(fid))
	for _, root := range roots {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		d := path.Dir(filepath.ToSlash(rel))
		if d == "." {
			return ""
		}
		return d
	}
	return ""
}

func sanity(c Components, s *Settings) error {
	if c.Reader == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	if len(s.Formats) == 0 {
		return fmt.Errorf("%w: no formats", contract.ErrInvalidInput)
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return nil
}
