//go:build !windows

package filesystem

import (
	"errors"
	"path/filepath"
	"testing"

	"imgcarve/pkg/contract"
)

// 保留层级时：绝对路径与逃逸被拒，子目录资产落在输出目录之下。
func TestMapPathNestedUnix(t *testing.T) {
	dir := t.TempDir()
	flat := false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat})
	for _, id := range []string{"/abs/x_0.jpg", "..", ".", "../saves/x_0.png"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %s expect invalid, got %v", id, err)
		}
	}
	got, err := w.mapPath("saves/slot1_0.jpg")
	if err != nil || got != filepath.Join(dir, "saves", "slot1_0.jpg") {
		t.Fatalf("mapPath = %q, %v", got, err)
	}
}
