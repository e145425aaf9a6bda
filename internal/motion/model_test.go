package motion

import (
	"math"
	"testing"
)

func TestPhiIdentityAtZero(t *testing.T) {
	phi := Phi(0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if got := phi.At(i, j); got != want {
				t.Errorf("Phi(0)[%d][%d] = %v, want %v", i, j, got, want)
			}
		}
	}
}

func TestPhiPropagatesPosition(t *testing.T) {
	phi := Phi(2.0)
	if got := phi.At(0, 2); got != 2.0 {
		t.Errorf("Phi(2)[0][2] = %v, want 2.0", got)
	}
	if got := phi.At(1, 3); got != 2.0 {
		t.Errorf("Phi(2)[1][3] = %v, want 2.0", got)
	}
}

func TestQIsSymmetricAndGrowsWithDt(t *testing.T) {
	q1 := Q(1.0, 0.5)
	q2 := Q(2.0, 0.5)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(q1.At(i, j)-q1.At(j, i)) > 1e-12 {
				t.Fatalf("Q(1.0) not symmetric at [%d][%d]", i, j)
			}
		}
	}
	if q2.At(0, 0) <= q1.At(0, 0) {
		t.Errorf("Q(2.0)[0][0] = %v, want > Q(1.0)[0][0] = %v", q2.At(0, 0), q1.At(0, 0))
	}
}

func TestQZeroAtZeroDt(t *testing.T) {
	q := Q(0, 1.0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if q.At(i, j) != 0 {
				t.Errorf("Q(0)[%d][%d] = %v, want 0", i, j, q.At(i, j))
			}
		}
	}
}

func TestNewModelShapes(t *testing.T) {
	m := NewModel(5.0, 1.0)
	hr, hc := m.H.Dims()
	if hr != 2 || hc != 4 {
		t.Errorf("H dims = (%d,%d), want (2,4)", hr, hc)
	}
	rr, rc := m.R.Dims()
	if rr != 2 || rc != 2 {
		t.Errorf("R dims = (%d,%d), want (2,2)", rr, rc)
	}
	if m.R.At(0, 0) != 25.0 {
		t.Errorf("R[0][0] = %v, want 25.0", m.R.At(0, 0))
	}
}
