package window

import "testing"

var (
	_ Surface = (*Offscreen)(nil)
	_ Surface = (*Window)(nil)
)

func TestOffscreen(t *testing.T) {
	o := NewOffscreen(1920, 1080)
	if w, h := o.FramebufferSize(); w != 1920 || h != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", w, h)
	}
	if o.ConsumeResized() {
		t.Error("new surface reports a resize")
	}

	o.Resize(800, 600)
	if w, h := o.FramebufferSize(); w != 800 || h != 600 {
		t.Errorf("size = %dx%d after Resize, want 800x600", w, h)
	}
	if !o.ConsumeResized() {
		t.Error("Resize not reported")
	}
	if o.ConsumeResized() {
		t.Error("resize flag not cleared")
	}
	o.WaitWhileMinimized()
}

func TestWaitWhileMinimized(t *testing.T) {
	tests := []struct {
		name      string
		sizes     [][2]int
		closeAt   int
		wantWaits int
	}{
		{"visible", [][2]int{{640, 480}}, -1, 0},
		{"restored after two waits", [][2]int{{0, 0}, {0, 480}, {640, 480}}, -1, 2},
		{"closed while minimized", [][2]int{{0, 0}, {0, 0}, {0, 0}}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, waits := 0, 0
			size := func() (int, int) {
				s := tt.sizes[min(calls, len(tt.sizes)-1)]
				calls++
				return s[0], s[1]
			}
			closed := func() bool { return tt.closeAt >= 0 && waits >= tt.closeAt }
			waitWhileMinimized(size, closed, func() { waits++ })
			if waits != tt.wantWaits {
				t.Errorf("waits = %d, want %d", waits, tt.wantWaits)
			}
		})
	}
}
