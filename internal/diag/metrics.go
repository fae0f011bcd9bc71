package diag

import (
	"strconv"
	"strings"
	"sync"
)

// 进程内指标（汇总后由 CLI 输出到日志）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）
// - assets_total{format} / asset_bytes_total{format}

var metrics = struct {
	sync.Mutex
	counters map[string]int64
}{counters: make(map[string]int64)}

func key(name string, labels ...string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

func add(k string, v int64) {
	metrics.Lock()
	metrics.counters[k] += v
	metrics.Unlock()
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { add(key("op_total", comp, stage, result), 1) }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { add(key("error_total", comp, code), 1) }

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(key("op_duration_ms", comp, stage), durMS)
}

// AddAsset 记录一个已写出的资产。
func AddAsset(format string, size int64) {
	add(key("assets_total", format), 1)
	add(key("asset_bytes_total", format), size)
}

// Snapshot 返回当前计数的副本。
func Snapshot() map[string]int64 {
	metrics.Lock()
	defer metrics.Unlock()
	out := make(map[string]int64, len(metrics.counters))
	for k, v := range metrics.counters {
		out[k] = v
	}
	return out
}

// SnapshotKV 以字符串键值返回快照（便于写入日志 kv）。
func SnapshotKV() map[string]string {
	snap := Snapshot()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		out[k] = strconv.FormatInt(v, 10)
	}
	return out
}

// ResetMetrics 清空计数（测试用）。
func ResetMetrics() {
	metrics.Lock()
	metrics.counters = make(map[string]int64)
	metrics.Unlock()
}
