package features

import (
	"math"
	"testing"
)

func TestWilder_SeedsThenSmooths(t *testing.T) {
	w := NewWilder(14)

	if got := w.Push(10); got != 10 {
		t.Fatalf("first push should seed: got %f", got)
	}
	got := w.Push(24)
	want := 10 + (24-10)/14.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("second push: got %f, want %f", got, want)
	}
}

func TestEWVar_SpikeRaisesShortVol(t *testing.T) {
	short := NewEWVar(LambdaFromHalfLife(10))

	// Flat series, then one large return.
	var before float64
	for i := 0; i < 50; i++ {
		before = short.Push(0.0001)
	}
	after := short.Push(0.05)

	if after <= before {
		t.Errorf("large return did not raise short-half-life variance: before=%g after=%g", before, after)
	}
}

func TestLambdaFromHalfLife(t *testing.T) {
	lam := LambdaFromHalfLife(10)
	// After 10 decays the weight should have halved.
	if got := math.Pow(lam, 10); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("lambda^hl = %f, want 0.5", got)
	}
}

func TestRSI_Bounded(t *testing.T) {
	r := NewRSI(14)

	closes := []float64{100, 101, 99, 105, 104, 104, 110, 90, 90.5, 120, 80, 100}
	for _, c := range closes {
		v := r.Push(c)
		if v < 0 || v > 100 {
			t.Fatalf("RSI out of [0,100]: %f", v)
		}
	}
}

func TestRSI_AllGainsIs100(t *testing.T) {
	r := NewRSI(14)

	var v float64
	for c := 100.0; c < 110; c++ {
		v = r.Push(c)
	}
	if v != 100 {
		t.Errorf("monotonic rise should pin RSI at 100, got %f", v)
	}
}

func TestStoch_Bounded(t *testing.T) {
	s := NewStoch(14, 3)

	bars := [][3]float64{
		{101, 99, 100}, {102, 100, 101}, {103, 98, 99},
		{99, 95, 96}, {105, 96, 104}, {105, 104, 105},
	}
	for _, b := range bars {
		k, d := s.Push(b[0], b[1], b[2])
		if k < 0 || k > 100 || d < 0 || d > 100 {
			t.Fatalf("stochastic out of [0,100]: k=%f d=%f", k, d)
		}
	}
}

func TestStoch_FlatWindowIs50(t *testing.T) {
	s := NewStoch(14, 3)

	k, d := s.Push(100, 100, 100)
	if k != 50 || d != 50 {
		t.Errorf("flat window: got k=%f d=%f, want 50/50", k, d)
	}
}

func TestATR_TrueRangeUsesPrevClose(t *testing.T) {
	a := NewATR(1) // n=1 makes ATR equal the latest true range

	a.Push(10, 9, 9.5)
	// Gap up: high-low is 1, but |low - prevClose| is 2.5.
	got := a.Push(13, 12, 12.5)
	if math.Abs(got-3.5) > 1e-12 {
		t.Errorf("true range: got %f, want 3.5 (|high-prevClose|)", got)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(3)

	for i := 1; i <= 3; i++ {
		if _, ok := r.Push(float64(i)); ok {
			t.Fatal("eviction before the ring is full")
		}
	}
	evicted, ok := r.Push(4)
	if !ok || evicted != 1 {
		t.Fatalf("got evicted=%f ok=%v, want 1 true", evicted, ok)
	}
	if r.Min() != 2 || r.Max() != 4 || r.Mean() != 3 {
		t.Errorf("window stats after eviction: min=%f max=%f mean=%f", r.Min(), r.Max(), r.Mean())
	}
}

func TestRollingMeanStd_Z(t *testing.T) {
	rs := NewRollingMeanStd(100)

	for i := 0; i < 10; i++ {
		rs.Push(10)
	}
	if got := rs.Z(100); got != 0 {
		t.Errorf("zero-deviation window should give z=0, got %f", got)
	}

	rs.Push(20)
	if got := rs.Z(rs.Mean()); math.Abs(got) > 1e-9 {
		t.Errorf("z at the mean should be 0, got %f", got)
	}
	if rs.Z(100) <= 0 {
		t.Error("z above the mean should be positive")
	}
}
