package growth

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/kalman"
	"github.com/banshee-data/tomht/internal/motion"
	"github.com/banshee-data/tomht/internal/track"
)

// fuseAISChildren forms the optional radar+AIS double-update children for
// one leaf, per spec.md §4.4: predict to the AIS timestamp, filter against
// a gated AIS position report, predict forward to the scan timestamp,
// filter against a gated radar measurement. Each (AIS message, radar
// measurement) pair that survives both gates becomes one fused child.
func fuseAISChildren(leaf *track.Node, nextScan int, scan Scan, ais *AISList, cfg Config) ([]track.Node, error) {
	var out []track.Node

	aisH, aisR := motion.AISObservation(cfg.AISSigma)

	for _, msg := range ais.Messages {
		dtAIS := msg.Time - leaf.Time
		predictedAIS := kalman.Predict(
			kalman.State{X: leaf.XHat, P: leaf.PHat},
			motion.Phi(dtAIS),
			motion.Q(dtAIS, cfg.Model.SigmaQ),
		)
		pcAIS, err := kalman.PrecalcFromPrediction(predictedAIS, aisH, aisR)
		if err != nil {
			continue
		}
		zAIS := mat.NewVecDense(2, []float64{msg.State[0], msg.State[1]})
		innovAIS := kalman.Innovation(zAIS, pcAIS)
		nisAIS := kalman.NIS(innovAIS, pcAIS)
		if nisAIS > cfg.Eta2 {
			continue
		}
		intermediate := kalman.State{
			X: kalman.Filter(predictedAIS, pcAIS, innovAIS),
			P: pcAIS.PHat,
		}

		dtRadar := scan.Time - msg.Time
		radarLeg := kalman.Predict(intermediate, motion.Phi(dtRadar), motion.Q(dtRadar, cfg.Model.SigmaQ))
		pcRadar, err := kalman.PrecalcFromPrediction(radarLeg, cfg.Model.H, cfg.Model.R)
		if err != nil {
			continue
		}

		for mi, meas := range scan.Measurements {
			z := mat.NewVecDense(2, []float64{meas.Value[0], meas.Value[1]})
			innovRadar := kalman.Innovation(z, pcRadar)
			nisRadar := kalman.NIS(innovRadar, pcRadar)
			if nisRadar > cfg.Eta2 {
				continue
			}
			xHat := kalman.Filter(radarLeg, pcRadar, innovRadar)
			nllr := leaf.CumulativeNLLR +
				kalman.NLLR(cfg.LambdaNu, 1.0, pcAIS, nisAIS) +
				kalman.NLLR(cfg.LambdaEx, leaf.Pd, pcRadar, nisRadar)

			out = append(out, track.Node{
				ScanNumber:        nextScan,
				Time:              scan.Time,
				MeasurementNumber: 0,
				Origin:            track.OriginAIS,
				MMSI:              msg.MMSI,
				FusedRadarIndex:   mi + 1,
				XHat:              xHat,
				PHat:              pcRadar.PHat,
				CumulativeNLLR:    nllr,
				Pd:                leaf.Pd,
				NIS:               nisRadar,
			})
		}
	}

	return out, nil
}
