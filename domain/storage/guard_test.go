package storage

import (
	"errors"
	"math"
	"testing"
)

type mockProber struct {
	available  uint64
	shouldFail bool
	failError  error
	lastPath   string
}

func (m *mockProber) AvailableBytes(path string) (uint64, error) {
	m.lastPath = path
	if m.shouldFail {
		return 0, m.failError
	}
	return m.available, nil
}

func TestGuard_HasSufficientSpace(t *testing.T) {
	const (
		count  = 120
		avg    = uint64(100 * 1024)
		margin = DefaultSafetyMargin
	)
	required := uint64(count)*avg + margin

	tests := []struct {
		name      string
		available uint64
		want      bool
	}{
		{name: "one byte short is denied", available: required - 1, want: false},
		{name: "exact amount is approved", available: required, want: true},
		{name: "more than enough is approved", available: required * 2, want: true},
		{name: "empty volume is denied", available: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &mockProber{available: tt.available}
			guard := NewGuard(prober, "/data/out", margin)

			if got := guard.HasSufficientSpace(count, avg); got != tt.want {
				t.Errorf("HasSufficientSpace = %v, want %v", got, tt.want)
			}
			if prober.lastPath != "/data/out" {
				t.Errorf("probed %q, want /data/out", prober.lastPath)
			}
		})
	}
}

func TestGuard_Check_FailsClosed(t *testing.T) {
	guard := NewGuard(&mockProber{shouldFail: true, failError: errors.New("statfs: permission denied")}, "/x", 0)

	d := guard.Check(1, 1)
	if d.Approved {
		t.Fatal("expected denial when free space is unknown")
	}
	if d.Err == nil {
		t.Error("expected error on decision")
	}
	if d.Required != 1 {
		t.Errorf("Required = %d, want 1", d.Required)
	}

	if NewGuard(nil, "/x", 0).HasSufficientSpace(0, 0) {
		t.Error("guard without prober must deny")
	}
}

func TestRequiredBytes(t *testing.T) {
	got, err := RequiredBytes(5, 1000*1024, DefaultSafetyMargin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := uint64(5*1000*1024) + DefaultSafetyMargin; got != want {
		t.Errorf("RequiredBytes = %d, want %d", got, want)
	}

	if _, err := RequiredBytes(2, math.MaxUint64, 0); !errors.Is(err, ErrEstimateOverflow) {
		t.Errorf("expected overflow on multiply, got %v", err)
	}
	if _, err := RequiredBytes(1, math.MaxUint64, 1); !errors.Is(err, ErrEstimateOverflow) {
		t.Errorf("expected overflow on add, got %v", err)
	}
	if _, err := RequiredBytes(-1, 1, 0); err == nil {
		t.Error("expected error for negative count")
	}

	guard := NewGuard(&mockProber{available: math.MaxUint64}, "/x", 1)
	if guard.HasSufficientSpace(1, math.MaxUint64) {
		t.Error("overflowing estimate must be denied")
	}
}
