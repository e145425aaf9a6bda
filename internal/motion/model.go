// Package motion builds the linear-Gaussian process and observation model
// shared by the Kalman kernel, the growth stage, and the initiator: a
// constant-velocity state (px, py, vx, vy) driven by continuous white noise
// acceleration (CWNA).
package motion

import "gonum.org/v1/gonum/mat"

// Model bundles the motion and observation matrices for one propagation
// step. Phi and Q depend on the elapsed time and are rebuilt per call; H, R
// and Gamma are constant for a given sensor configuration.
type Model struct {
	H     *mat.Dense // 2x4 observation matrix
	R     *mat.Dense // 2x2 measurement noise covariance
	Gamma *mat.Dense // 4x2 continuous noise-input matrix
	SigmaQ float64   // process noise spectral density (acceleration, m/s^2 per sqrt(s))
}

// NewModel builds a Model for a radar-style position observation with
// measurement noise standard deviation sigmaR and process noise spectral
// density sigmaQ.
func NewModel(sigmaR, sigmaQ float64) *Model {
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r := mat.NewDense(2, 2, []float64{
		sigmaR * sigmaR, 0,
		0, sigmaR * sigmaR,
	})
	gamma := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 0,
		1, 0,
		0, 1,
	})
	return &Model{H: h, R: r, Gamma: gamma, SigmaQ: sigmaQ}
}

// Phi returns the constant-velocity state transition matrix for elapsed
// time dt.
func Phi(dt float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Q returns the closed-form continuous-white-noise-acceleration process
// covariance for elapsed time dt and spectral density sigmaQ. This is the
// standard CWNA form (Δt³/3, Δt²/2, Δt terms), not Γ·Qc·Γᵀ with a scalar
// Qc — the two are equivalent only up to the dt-power convention chosen
// here, and the closed form is what the tracker's cumulative-NLLR
// bookkeeping is tuned against.
func Q(dt, sigmaQ float64) *mat.Dense {
	q2 := sigmaQ * sigmaQ
	dt2 := dt * dt
	dt3 := dt2 * dt
	a := q2 * dt3 / 3
	b := q2 * dt2 / 2
	c := q2 * dt
	return mat.NewDense(4, 4, []float64{
		a, 0, b, 0,
		0, a, 0, b,
		b, 0, c, 0,
		0, b, 0, c,
	})
}

// AISObservation returns an H', R' pair for treating an AIS position report
// as a radar-like position measurement, per spec.md §4.4: same H, but the
// AIS covariance sigmaAIS replaces the radar covariance.
func AISObservation(sigmaAIS float64) (h, r *mat.Dense) {
	h = mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r = mat.NewDense(2, 2, []float64{
		sigmaAIS * sigmaAIS, 0,
		0, sigmaAIS * sigmaAIS,
	})
	return h, r
}
