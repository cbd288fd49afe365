package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := FromMillis(1_700_000_000_000)
	m := NewManual(start)
	m.Advance(1500 * time.Millisecond)
	if got := Millis(m.Now()); got != 1_700_000_001_500 {
		t.Fatalf("expected 1700000001500 got %d", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set did not move clock back")
	}
}

func TestFixed(t *testing.T) {
	at := FromMillis(42)
	c := Fixed(at)
	if !c.Now().Equal(at) || !c.Now().Equal(at) {
		t.Fatalf("fixed clock moved")
	}
}
