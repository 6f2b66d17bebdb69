package gwav

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
)

// d is a test helper for creating decimals from strings.
func d(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

// closeTo checks |got - want| <= tol.
func closeTo(t *testing.T, got, want, tol sdkmath.LegacyDec) {
	t.Helper()
	diff := got.Sub(want).Abs()
	if diff.GT(tol) {
		t.Errorf("expected %s within %s of %s (diff %s)", got, tol, want, diff)
	}
}

var tol = d("0.000000001")

func TestInitialize_Twice(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.0"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Initialize(d("1.0"), 2000); err != ErrAlreadyInitialized {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestRecord_Uninitialized(t *testing.T) {
	s := New()
	if err := s.Record(d("1.0"), 1000); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestPointLookup_ReturnsLatestExactly(t *testing.T) {
	s := New()
	if err := s.Initialize(d("0.85"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.ValueBetween(1000, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, got, d("0.85"), tol)
}

func TestConstantSeries_GWAVIsConstant(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.2"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("1.2"), 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Window entirely within the two flat observations.
	got, err := s.ValueBetween(5000, 3000, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, got, d("1.2"), tol)
}

func TestRecord_TimestampRegressionFails(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.0"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("1.1"), 2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Record(d("1.2"), 1500)
	if !errors.Is(err, ErrInvalidBlockTimestamp) {
		t.Errorf("expected ErrInvalidBlockTimestamp, got %v", err)
	}
}

func TestRecord_SameTimestampOverwrites(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.0"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("2.0"), 2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("3.0"), 2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The instantaneous value only reflects the overwrite.
	got, err := s.ValueBetween(2000, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, got, d("3.0"), tol)

	// The cumulative sum over the interval was rebuilt with the new value:
	// a full-window query spanning [1000, 2000] must use 3.0, not 2.0.
	mean, err := s.ValueBetween(2000, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, mean, d("3.0"), tol)
}

func TestWindowPrecedingSeries_Fails(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.0"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.ValueBetween(2000, 1500, 0)
	if !errors.Is(err, ErrWindowPrecedesSeries) {
		t.Errorf("expected ErrWindowPrecedesSeries, got %v", err)
	}
}

func TestInvertedWindow_Fails(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.0"), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.ValueBetween(2000, 100, 500)
	if err != ErrInvalidWindow {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestNonPositiveValue_Fails(t *testing.T) {
	s := New()
	if err := s.Initialize(d("0"), 1000); err != ErrInvalidValue {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestGWAV_TwoSegmentGeometricMean(t *testing.T) {
	// Value 1.0 accrues over (0, 100], then 4.0 over (100, 200]: the geometric
	// mean of the full window is sqrt(1*4) = 2 with equal weights.
	s := New()
	if err := s.Initialize(d("1.0"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("1.0"), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(d("4.0"), 200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.ValueBetween(200, 200, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, got, d("2.0"), tol)
}

func TestGWAV_FlatExtrapolationBeyondLatest(t *testing.T) {
	s := New()
	if err := s.Initialize(d("1.5"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Query well after the only observation: the value holds flat.
	got, err := s.ValueBetween(10_000, 5000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, got, d("1.5"), tol)
}
