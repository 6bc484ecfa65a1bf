package domain_test

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

func TestRawAmountBigInt(t *testing.T) {
	tests := []struct {
		name    string
		in      domain.RawAmount
		want    string
		wantErr bool
	}{
		{"plain", "1500000", "1500000", false},
		{"zero", "0", "0", false},
		{"empty", "", "", true},
		{"negative", "-5", "", true},
		{"decimal point", "1.5", "", true},
		{"garbage", "abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.BigInt()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidAmount) {
					t.Fatalf("BigInt(%q) error = %v, want ErrInvalidAmount", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BigInt(%q) unexpected error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("BigInt(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestRawFromUnits(t *testing.T) {
	tests := []struct {
		units float64
		want  domain.RawAmount
	}{
		{1.5, "1500000"},
		{0.000001, "1"},
		{0.0000019, "1"},
		{250, "250000000"},
		{0, "0"},
		{-3, "0"},
	}
	for _, tt := range tests {
		if got := domain.RawFromUnits(tt.units, domain.USDCDecimals); got != tt.want {
			t.Errorf("RawFromUnits(%v) = %s, want %s", tt.units, got, tt.want)
		}
	}
}

func TestRawAmountToUnits(t *testing.T) {
	got, err := domain.RawAmount("2500000").ToUnits(domain.USDCDecimals)
	if err != nil {
		t.Fatalf("ToUnits: %v", err)
	}
	if got != 2.5 {
		t.Errorf("ToUnits = %v, want 2.5", got)
	}
	if domain.RawAmount("0").IsPositive() {
		t.Error("zero amount reported positive")
	}
	if !domain.RawAmount("1").IsPositive() {
		t.Error("one base unit reported non-positive")
	}
}
