package cborseq

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"imgcarve/pkg/contract"
)

func TestRecordSequence(t *testing.T) {
	m, err := New(nil, t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := []contract.ManifestEntry{
		{Host: "a.bin", Format: "jpeg", Index: 0, Name: "a_0.jpg", Offset: 4, Size: 100, Digest: "00"},
		{Host: "a.bin", Format: "png", Index: 0, Name: "a_0.png", Offset: 200, Size: 57, Digest: "11"},
	}
	for _, e := range want {
		if err := m.Record(context.Background(), e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(m.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec := cbor.NewDecoder(f)
	var got []contract.ManifestEntry
	for {
		var e contract.ManifestEntry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestDeterministic 相同条目编码结果一致。
func TestDeterministic(t *testing.T) {
	e := contract.ManifestEntry{Host: "x", Format: "png", Name: "x_0.png", Size: 1}
	a, err := encMode.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := encMode.Marshal(e)
	if string(a) != string(b) {
		t.Fatalf("编码不确定")
	}
}
