package monitor

import "testing"

func TestAnomalyTracker_RollResetsWindow(t *testing.T) {
	tr := NewAnomalyTracker(5, nil)

	for i := 0; i < 3; i++ {
		tr.Observe("candle_gap", "BTCUSDT", 1)
	}
	if n := tr.Roll(); n != 3 {
		t.Fatalf("rolled count = %d, want 3", n)
	}
	if n := tr.Roll(); n != 0 {
		t.Fatalf("count after roll = %d, want 0", n)
	}
}
