package geo

import (
	"math"
	"testing"
)

func TestDistance_Known(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
	}{
		{"same point", Point{0, 0}, Point{0, 0}, 0},
		{"one degree of longitude on equator", Point{0, 0}, Point{0, 1}, 111.19},
		{"(1,1) to origin", Point{1, 1}, Point{0, 0}, 157.25},
		{"(5,5) to origin", Point{5, 5}, Point{0, 0}, 785.77},
		{"pole to pole", Point{90, 0}, Point{-90, 0}, math.Pi * EarthRadiusKm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("Distance(%v, %v) = %.3f, want ~%.3f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := []Point{
		{0, 0}, {5, 5}, {-33.86, 151.21}, {51.5, -0.12}, {12.97, 77.59}, {89.9, 179.9}, {-89.9, -179.9},
	}
	for _, a := range points {
		if d := Distance(a, a); d != 0 {
			t.Errorf("Distance(%v, %v) = %v, want 0", a, a, d)
		}
		for _, b := range points {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance not symmetric for %v and %v: %v vs %v", a, b, Distance(a, b), Distance(b, a))
			}
		}
	}
}

func TestPoint_Valid(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{0, 0}, true},
		{Point{90, 180}, true},
		{Point{-90, -180}, true},
		{Point{90.1, 0}, false},
		{Point{0, -180.5}, false},
		{Point{math.NaN(), 0}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.p, got, tt.want)
		}
	}
}
