package inventory

import "testing"

func TestTierCascade(t *testing.T) {
	cases := []struct {
		name              string
		ld1, ld5, ld10    float64
		pindex, wantTier  int
	}{
		{"light load uses power index", 0.1, 0.1, 0.1, 3, 3},
		{"ld1 boundary falls through", 0.9, 0.1, 0.1, 3, 3},
		{"ld5 excuses a ld1 burst", 1.2, 0.5, 0.1, 3, 3},
		{"ld5 boundary falls through", 1.2, 0.7, 0.1, 3, 2},
		{"ld10 demotes by one", 1.2, 1.0, 0.5, 3, 2},
		{"ld10 boundary falls through to zero", 1.2, 1.0, 0.8, 3, 0},
		{"sustained load is unusable", 2.0, 2.0, 2.0, 3, 0},
		{"pindex 1 demoted clamps to zero", 1.2, 1.0, 0.5, 1, 0},
		{"pindex 0 never usable", 0.1, 0.1, 0.1, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := tier(c.ld1, c.ld5, c.ld10, c.pindex)
			if got != c.wantTier {
				t.Errorf("tier(%v,%v,%v,%v) = %d, want %d", c.ld1, c.ld5, c.ld10, c.pindex, got, c.wantTier)
			}
		})
	}
}
