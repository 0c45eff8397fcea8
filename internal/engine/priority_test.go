package engine

import "testing"

func TestNamedPriorityOrdering(t *testing.T) {
	ordered := []Priority{
		BackgroundScan, OrphanScan, ContentHash, Low, ViewerLow,
		Normal, High, Viewer, Fullres, Shutdown,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Fatalf("%v (%d) not below %v (%d)",
				ordered[i-1], ordered[i-1], ordered[i], ordered[i])
		}
	}
}

func TestShutdownAboveEverything(t *testing.T) {
	// Shutdown must outrank any value the heatmap or a producer can emit,
	// including intermediates above Fullres.
	for _, p := range []Priority{Fullres, Viewer, 100, 500, 998} {
		if p >= Shutdown {
			t.Fatalf("priority %d not below shutdown", p)
		}
	}
}

func TestIntermediateValuesAreLegal(t *testing.T) {
	// 85 sits between ViewerLow-ish scan work and Viewer — the level
	// interactive scans are scheduled at.
	p := Priority(85)
	if p <= ViewerLow || p >= Viewer {
		t.Fatalf("85 does not interleave between %d and %d", ViewerLow, Viewer)
	}
	if got := p.String(); got != "priority(85)" {
		t.Fatalf("String() = %q, want priority(85)", got)
	}
	if got := Viewer.String(); got != "viewer" {
		t.Fatalf("String() = %q, want viewer", got)
	}
}
