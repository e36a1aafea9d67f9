package vulkan

import (
	"testing"

	"github.com/gogpu/lumen/internal/gpu"
)

func TestTablePutGetTake(t *testing.T) {
	tb := newTable[gpu.BufferHandle, string]()
	h := tb.put(7, "vertices")
	if h != 7 {
		t.Fatalf("put returned %d, want 7", h)
	}
	if v, ok := tb.get(7); !ok || v != "vertices" {
		t.Fatalf("get(7) = %q, %v", v, ok)
	}
	if v, ok := tb.take(7); !ok || v != "vertices" {
		t.Fatalf("take(7) = %q, %v", v, ok)
	}
	if _, ok := tb.get(7); ok {
		t.Error("get after take succeeded")
	}
	if tb.len() != 0 {
		t.Errorf("len = %d, want 0", tb.len())
	}
}
