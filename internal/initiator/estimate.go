package initiator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/motion"
)

// Measurement is one point measurement offered to the initiator, with the
// timestamp it arrived at.
type Measurement struct {
	Value [2]float64
	Time  float64
}

// Estimate is a PDAF track state: a prior (predicted) mean/covariance plus
// the posterior produced by combining every gated measurement at this
// scan. Ported from the original tracker's Estimate class.
type Estimate struct {
	Time float64
	H    *mat.Dense
	R    *mat.Dense

	EstPrior *mat.VecDense
	CovPrior *mat.Dense
	ZHat     *mat.VecDense
	S        *mat.Dense

	EstPosterior *mat.VecDense
	CovPosterior *mat.Dense
}

// NewEstimate builds an Estimate from a prior mean/covariance.
func NewEstimate(t float64, mean *mat.VecDense, cov *mat.Dense, h, r *mat.Dense) *Estimate {
	var ht mat.Dense
	ht.Mul(h, cov)
	var s mat.Dense
	s.Mul(&ht, h.T())
	s.Add(&s, r)

	var zHat mat.VecDense
	zHat.MulVec(h, mean)

	return &Estimate{
		Time:     t,
		H:        h,
		R:        r,
		EstPrior: mean,
		CovPrior: cov,
		ZHat:     &zHat,
		S:        &s,
	}
}

// InsideGate reports whether measurement z's NIS against this estimate's
// predicted observation is below gateGamma.
func (e *Estimate) InsideGate(z [2]float64, gateGamma float64) bool {
	var sInv mat.Dense
	if err := sInv.Inverse(e.S); err != nil {
		return false
	}
	innov := mat.NewVecDense(2, []float64{z[0] - e.ZHat.AtVec(0), z[1] - e.ZHat.AtVec(1)})
	var tmp mat.VecDense
	tmp.MulVec(&sInv, innov)
	nis := mat.Dot(innov, &tmp)
	return nis < gateGamma
}

// PDAFStep combines every gated measurement into one posterior update, per
// the original tracker's probabilistic-data-association formula: each
// candidate measurement contributes a beta-weighted innovation, plus a
// beta mass reserved for "no detection", and the posterior covariance adds
// a spread-of-innovations term on top of the usual Kalman covariance
// update.
func (e *Estimate) PDAFStep(gated [][2]float64, gateGamma, pd, pg float64) {
	n := len(gated)
	if n == 0 {
		e.trivialStep()
		return
	}

	var sInv mat.Dense
	if err := sInv.Inverse(e.S); err != nil {
		e.trivialStep()
		return
	}

	b := 2 / gateGamma * float64(n) * (1 - pd*pg) / pd
	innovations := make([]*mat.VecDense, n)
	e_ := make([]float64, n)
	for i, z := range gated {
		innov := mat.NewVecDense(2, []float64{z[0] - e.ZHat.AtVec(0), z[1] - e.ZHat.AtVec(1)})
		innovations[i] = innov
		var tmp mat.VecDense
		tmp.MulVec(&sInv, innov)
		e_[i] = math.Exp(-0.5 * mat.Dot(innov, &tmp))
	}

	sum := b
	for _, v := range e_ {
		sum += v
	}
	betas := make([]float64, n+1)
	for i, v := range e_ {
		betas[i] = v / sum
	}
	betas[n] = b / sum

	var ht mat.Dense
	ht.Mul(e.CovPrior, e.H.T())
	var gain mat.Dense
	gain.Mul(&ht, &sInv)

	totalInnovation := mat.NewVecDense(2, nil)
	covTerms := mat.NewDense(2, 2, nil)
	for i, innov := range innovations {
		var weighted mat.VecDense
		weighted.ScaleVec(betas[i], innov)
		totalInnovation.AddVec(totalInnovation, &weighted)

		var outer mat.Dense
		outer.Outer(betas[i], innov, innov)
		covTerms.Add(covTerms, &outer)
	}
	var outerTotal mat.Dense
	outerTotal.Outer(1, totalInnovation, totalInnovation)
	covTerms.Sub(covTerms, &outerTotal)

	var correction mat.VecDense
	correction.MulVec(&gain, totalInnovation)
	estPosterior := mat.NewVecDense(4, nil)
	estPosterior.AddVec(e.EstPrior, &correction)
	e.EstPosterior = estPosterior

	var soiHalf mat.Dense
	soiHalf.Mul(&gain, covTerms)
	var soi mat.Dense
	soi.Mul(&soiHalf, gain.T())

	var gainS mat.Dense
	gainS.Mul(&gain, e.S)
	var pc mat.Dense
	pc.Mul(&gainS, gain.T())
	pc.Sub(e.CovPrior, &pc)

	covPosterior := mat.NewDense(4, 4, nil)
	var betaPrior mat.Dense
	betaPrior.Scale(betas[n], e.CovPrior)
	var betaPc mat.Dense
	betaPc.Scale(1-betas[n], &pc)
	covPosterior.Add(&betaPrior, &betaPc)
	covPosterior.Add(covPosterior, &soi)

	// Symmetrize.
	var t mat.Dense
	t.CloneFrom(covPosterior.T())
	covPosterior.Add(covPosterior, &t)
	covPosterior.Scale(0.5, covPosterior)

	e.CovPosterior = covPosterior
}

func (e *Estimate) trivialStep() {
	e.EstPosterior = e.EstPrior
	e.CovPosterior = e.CovPrior
}

// PredictTo advances this estimate's posterior to time t through the given
// motion model, returning a fresh Estimate whose prior (and ZHat/S) are
// valid for gating measurements arriving at t. Estimates are otherwise
// static once PDAFStep runs; callers must predict before every scan.
func (e *Estimate) PredictTo(t float64, model *motion.Model) *Estimate {
	dt := t - e.Time
	phi := motion.Phi(dt)
	q := motion.Q(dt, model.SigmaQ)

	var mean mat.VecDense
	mean.MulVec(phi, e.EstPosterior)

	var phiCov mat.Dense
	phiCov.Mul(phi, e.CovPosterior)
	cov := mat.NewDense(4, 4, nil)
	cov.Mul(&phiCov, phi.T())
	cov.Add(cov, q)

	return NewEstimate(t, &mean, cov, model.H, model.R)
}

// FromMeasurements is the two-point stereo Kalman initializer: given two
// measurements at distinct timestamps, compute the maximum-likelihood
// (x, v) at both timestamps using the stacked observation [H; H*Phi(dt)]
// and block-diagonal R. Ported from the original tracker's
// Estimate.from_measurement.
func FromMeasurements(m1, m2 Measurement, model *motion.Model) (est1, est2 *Estimate) {
	dt := m2.Time - m1.Time
	phi := motion.Phi(dt)

	var hPhi mat.Dense
	hPhi.Mul(model.H, phi)

	hs := mat.NewDense(4, 4, nil)
	hs.SetRow(0, row(model.H, 0))
	hs.SetRow(1, row(model.H, 1))
	hs.SetRow(2, row(&hPhi, 0))
	hs.SetRow(3, row(&hPhi, 1))

	zs := mat.NewVecDense(4, []float64{m1.Value[0], m1.Value[1], m2.Value[0], m2.Value[1]})

	rs := mat.NewDense(4, 4, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			rs.Set(i, j, model.R.At(i, j))
			rs.Set(i+2, j+2, model.R.At(i, j))
		}
	}

	var rsInv mat.Dense
	rsInv.Inverse(rs)

	var hsTRsInv mat.Dense
	hsTRsInv.Mul(hs.T(), &rsInv)

	ss := mat.NewDense(4, 4, nil)
	ss.Mul(&hsTRsInv, hs)

	var ssInv mat.Dense
	ssInv.Inverse(ss)

	var est1x mat.VecDense
	est1x.MulVec(&hsTRsInv, zs)
	var x1 mat.VecDense
	x1.MulVec(&ssInv, &est1x)

	var x2 mat.VecDense
	x2.MulVec(phi, &x1)

	cov1 := mat.DenseCopyOf(&ssInv)
	var phiCov mat.Dense
	phiCov.Mul(phi, cov1)
	cov2 := mat.NewDense(4, 4, nil)
	cov2.Mul(&phiCov, phi.T())

	est1 = &Estimate{Time: m1.Time, H: model.H, R: model.R, EstPrior: &x1, CovPrior: cov1, EstPosterior: &x1, CovPosterior: cov1}
	est2 = &Estimate{Time: m2.Time, H: model.H, R: model.R, EstPrior: &x2, CovPrior: cov2, EstPosterior: &x2, CovPosterior: cov2}
	return est1, est2
}

func row(m *mat.Dense, i int) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		out[j] = m.At(i, j)
	}
	return out
}
