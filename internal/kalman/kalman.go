// Package kalman implements the bulk Kalman-filter kernel used by the
// growth stage: prediction, the innovation precalculation shared across all
// gated measurements for a leaf, filtering, and the NIS/NLLR scoring
// formulas. It never hard-codes a motion or observation model; callers
// supply Phi, Q, H, R.
package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when S cannot be inverted even after the
// symmetrize-and-retry recovery step.
var ErrSingular = errors.New("kalman: innovation covariance not invertible")

// State is a single node's (x, P) pair, position-velocity state and its
// 4x4 covariance.
type State struct {
	X *mat.VecDense
	P *mat.Dense
}

// Predict propagates a state forward under Phi with process noise Q:
// x̄ = Φx, P̄ = ΦPΦᵀ + Q.
func Predict(s State, phi, q *mat.Dense) State {
	var xBar mat.VecDense
	xBar.MulVec(phi, s.X)

	var pt mat.Dense
	pt.Mul(phi, s.P)
	var pBar mat.Dense
	pBar.Mul(&pt, phi.T())
	pBar.Add(&pBar, q)

	return State{X: &xBar, P: &pBar}
}

// Precalc holds the quantities shared by every measurement gated against
// one predicted leaf: the predicted observation ẑ, innovation covariance S
// and its inverse, Kalman gain K, and posterior covariance P̂ (the same for
// every measurement, since P̂ does not depend on z in the linear-Gaussian
// case).
type Precalc struct {
	ZHat  *mat.VecDense
	S     *mat.Dense
	SInv  *mat.Dense
	K     *mat.Dense
	PHat  *mat.Dense
	LogDetS float64 // ln|S|, cached for NLLR
}

// PrecalcFromPrediction computes the shared precalculation for one
// predicted state under observation model H, R. It enforces S symmetry by
// averaging with its transpose and inverts via Cholesky; on Cholesky
// failure it retries once more after re-symmetrizing, then gives up with
// ErrSingular.
func PrecalcFromPrediction(predicted State, h, r *mat.Dense) (Precalc, error) {
	var zHat mat.VecDense
	zHat.MulVec(h, predicted.X)

	var ht mat.Dense
	ht.Mul(h, predicted.P)
	var s mat.Dense
	s.Mul(&ht, h.T())
	s.Add(&s, r)
	symmetrize(&s)

	sInv, logDet, err := stableInverse(&s)
	if err != nil {
		return Precalc{}, fmt.Errorf("kalman: precalc: %w", err)
	}

	var pht mat.Dense
	pht.Mul(predicted.P, h.T())
	var k mat.Dense
	k.Mul(&pht, sInv)

	n, _ := predicted.P.Dims()
	identity := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		identity.Set(i, i, 1)
	}
	var kh mat.Dense
	kh.Mul(&k, h)
	var imkh mat.Dense
	imkh.Sub(identity, &kh)
	var pHat mat.Dense
	pHat.Mul(&imkh, predicted.P)
	symmetrize(&pHat)

	return Precalc{ZHat: &zHat, S: &s, SInv: sInv, K: &k, PHat: &pHat, LogDetS: logDet}, nil
}

// Filter computes the posterior mean x̂ = x̄ + K·z̃ for innovation z̃.
func Filter(predicted State, pc Precalc, innovation *mat.VecDense) *mat.VecDense {
	var correction mat.VecDense
	correction.MulVec(pc.K, innovation)
	var xHat mat.VecDense
	xHat.AddVec(predicted.X, &correction)
	return &xHat
}

// Innovation returns z - ẑ for a raw measurement z.
func Innovation(z *mat.VecDense, pc Precalc) *mat.VecDense {
	var innov mat.VecDense
	innov.SubVec(z, pc.ZHat)
	return &innov
}

// NIS returns the normalized innovation squared z̃ᵀS⁻¹z̃.
func NIS(innovation *mat.VecDense, pc Precalc) float64 {
	var tmp mat.VecDense
	tmp.MulVec(pc.SInv, innovation)
	return mat.Dot(innovation, &tmp)
}

// NLLR returns the per-step negative log-likelihood ratio for a gated
// measurement: 0.5*nis + ln(lambdaEx*sqrt(|2*pi*S|) / pd).
func NLLR(lambdaEx, pd float64, pc Precalc, nis float64) float64 {
	dim := 2.0
	log2piDetS := dim*math.Log(2*math.Pi) + pc.LogDetS
	return 0.5*nis + math.Log(lambdaEx) + 0.5*log2piDetS - math.Log(pd)
}

// NLLRMissed returns the per-step NLLR for the mandatory zero-hypothesis
// (missed-detection) child: -ln(1-pd).
func NLLRMissed(pd float64) float64 {
	return -math.Log(1 - pd)
}

func symmetrize(m *mat.Dense) {
	r, c := m.Dims()
	if r != c {
		return
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			avg := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, avg)
			m.Set(j, i, avg)
		}
	}
}

// stableInverse inverts a symmetric positive-definite matrix via Cholesky,
// returning the inverse and ln|S|. On first failure it re-symmetrizes and
// retries once before surfacing ErrSingular.
func stableInverse(s *mat.Dense) (*mat.Dense, float64, error) {
	inv, logDet, err := choleskyInverse(s)
	if err == nil {
		return inv, logDet, nil
	}
	symmetrize(s)
	inv, logDet, err = choleskyInverse(s)
	if err != nil {
		return nil, 0, ErrSingular
	}
	return inv, logDet, nil
}

func choleskyInverse(s *mat.Dense) (*mat.Dense, float64, error) {
	n, _ := s.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, s.At(i, j))
		}
	}
	var chol mat.Cholesky
	ok := chol.Factorize(sym)
	if !ok {
		return nil, 0, ErrSingular
	}
	var invSym mat.SymDense
	if err := chol.InverseTo(&invSym); err != nil {
		return nil, 0, err
	}
	inv := mat.NewDense(n, n, nil)
	inv.CopySym(&invSym)
	logDet := chol.LogDet()
	return inv, logDet, nil
}
