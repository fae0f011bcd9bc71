package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"imgcarve/pkg/contract"
)

func TestRecordAndClose(t *testing.T) {
	dir := t.TempDir()
	m, err := New(nil, dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.Path() != filepath.Join(dir, DefaultName) {
		t.Fatalf("path = %s", m.Path())
	}
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := contract.ManifestEntry{Host: "h.bin", Format: "jpeg", Index: i, Name: "h_0.jpg", Size: 10}
			if err := m.Record(ctx, e); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := m.Record(ctx, contract.ManifestEntry{}); err == nil {
		t.Fatalf("关闭后 Record 应报错")
	}

	f, err := os.Open(m.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		var e contract.ManifestEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", n, err)
		}
		if e.Host != "h.bin" || e.Format != "jpeg" {
			t.Fatalf("entry = %+v", e)
		}
		n++
	}
	if n != 8 {
		t.Fatalf("lines = %d", n)
	}
}

func TestCustomPath(t *testing.T) {
	dir := t.TempDir()
	m, err := New(&Options{Path: "meta/list.jsonl"}, dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()
	if m.Path() != filepath.Join(dir, "meta", "list.jsonl") {
		t.Fatalf("path = %s", m.Path())
	}
}

func TestCanceled(t *testing.T) {
	m, err := New(nil, t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Record(ctx, contract.ManifestEntry{}); err != context.Canceled {
		t.Fatalf("want canceled, got %v", err)
	}
}
