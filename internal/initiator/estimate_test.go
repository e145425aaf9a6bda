package initiator

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/motion"
)

func testModel() *motion.Model {
	return motion.NewModel(5.0, 1.0)
}

func TestInsideGateAcceptsExactPrediction(t *testing.T) {
	model := testModel()
	mean := mat.NewVecDense(4, []float64{100, 200, 1, -1})
	cov := mat.NewDense(4, 4, []float64{
		25, 0, 0, 0,
		0, 25, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	est := NewEstimate(0, mean, cov, model.H, model.R)
	if !est.InsideGate([2]float64{100, 200}, 5.99) {
		t.Errorf("exact prediction should be inside gate")
	}
	if est.InsideGate([2]float64{100000, 200000}, 5.99) {
		t.Errorf("far measurement should be outside gate")
	}
}

func TestPDAFStepNoGatedMeasurementsIsTrivial(t *testing.T) {
	model := testModel()
	mean := mat.NewVecDense(4, []float64{0, 0, 0, 0})
	cov := mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	est := NewEstimate(0, mean, cov, model.H, model.R)
	est.PDAFStep(nil, 5.99, 0.9, 0.99)
	if est.EstPosterior != est.EstPrior {
		t.Errorf("trivial step should retain the prior as posterior")
	}
}

func TestPDAFStepCombinesTowardMeasurements(t *testing.T) {
	model := testModel()
	mean := mat.NewVecDense(4, []float64{0, 0, 0, 0})
	cov := mat.NewDense(4, 4, []float64{100, 0, 0, 0, 0, 100, 0, 0, 0, 0, 4, 0, 0, 0, 0, 4})
	est := NewEstimate(0, mean, cov, model.H, model.R)
	est.PDAFStep([][2]float64{{10, 10}}, 5.99, 0.9, 0.99)
	if est.EstPosterior.AtVec(0) <= 0 || est.EstPosterior.AtVec(1) <= 0 {
		t.Errorf("posterior should move toward the measurement, got %v", mat.Formatted(est.EstPosterior))
	}
	r, c := est.CovPosterior.Dims()
	if r != 4 || c != 4 {
		t.Errorf("posterior covariance shape = %dx%d, want 4x4", r, c)
	}
}

func TestFromMeasurementsRecoversVelocity(t *testing.T) {
	model := testModel()
	m1 := Measurement{Value: [2]float64{0, 0}, Time: 0}
	m2 := Measurement{Value: [2]float64{10, 0}, Time: 5}
	est1, est2 := FromMeasurements(m1, m2, model)
	if vx := est1.EstPosterior.AtVec(2); vx < 1.5 || vx > 2.5 {
		t.Errorf("recovered vx = %v, want ~2.0", vx)
	}
	if x2 := est2.EstPosterior.AtVec(0); x2 < 8 || x2 > 12 {
		t.Errorf("est2 x = %v, want ~10", x2)
	}
}
