// Package stats derives aggregate figures and ETAs from the ledger.
package stats

import (
	"time"

	"ffbatch/internal/ledger"
)

// MinSamples is the number of completed records required before an ETA is
// produced.
const MinSamples = 3

// Aggregates are the rolling figures derived from completed records.
type Aggregates struct {
	Samples           int
	MeanSpeed         float64
	MeanRatio         float64
	MeanMediaDuration time.Duration
	MeanWallTime      time.Duration
	SavedBytes        int64
}

// Aggregate computes Aggregates over records plus in-flight speed samples.
// Only successful records contribute ratios and timings; aborted records
// carry partial data and only contribute their speed.
func Aggregate(records []ledger.Record, inFlightSpeeds []float64) Aggregates {
	var (
		agg         Aggregates
		speedSum    float64
		speedN      int
		ratioSum    float64
		durationSum time.Duration
		durationN   int
		wallSum     time.Duration
	)
	for _, r := range records {
		if r.AverageSpeed > 0 {
			speedSum += r.AverageSpeed
			speedN++
		}
		if !r.Successful {
			continue
		}
		agg.Samples++
		agg.SavedBytes += r.Saved()
		ratioSum += r.Ratio()
		wallSum += r.Elapsed
		if r.MediaDuration > 0 {
			durationSum += r.MediaDuration
			durationN++
		}
	}
	for _, s := range inFlightSpeeds {
		if s > 0 {
			speedSum += s
			speedN++
		}
	}
	if speedN > 0 {
		agg.MeanSpeed = speedSum / float64(speedN)
	}
	if agg.Samples > 0 {
		agg.MeanRatio = ratioSum / float64(agg.Samples)
		agg.MeanWallTime = wallSum / time.Duration(agg.Samples)
	}
	if durationN > 0 {
		agg.MeanMediaDuration = durationSum / time.Duration(durationN)
	}
	return agg
}

// EstimateInput is everything Estimate needs.
type EstimateInput struct {
	Records        []ledger.Record
	InFlightSpeeds []float64
	// Remaining counts pending plus in-flight items.
	Remaining int
	// SessionCompleted counts items finished since this process started.
	SessionCompleted int
	PendingBytes     int64
	Parallelism      int
	// Elapsed is wall time since this session started.
	Elapsed time.Duration
}

// Estimate holds the derived projections. Ready is false until enough
// samples exist; the ETA fields are zero in that case.
type Estimate struct {
	Aggregates
	Ready            bool
	ETAByDuration    time.Duration
	ETAByThroughput  time.Duration
	ETABlended       time.Duration
	ProjectedSavings int64
}

// Compute derives an Estimate. It is a pure function of in.
func Compute(in EstimateInput) Estimate {
	est := Estimate{Aggregates: Aggregate(in.Records, in.InFlightSpeeds)}
	if est.Samples < MinSamples {
		return est
	}
	est.Ready = true

	parallelism := in.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	sessionItems := float64(in.Remaining+in.SessionCompleted) / float64(parallelism)

	est.ETAByThroughput = clamp(time.Duration(float64(est.MeanWallTime)*sessionItems) - in.Elapsed)
	if est.MeanSpeed > 0 && est.MeanMediaDuration > 0 {
		perItem := float64(est.MeanMediaDuration) / est.MeanSpeed
		est.ETAByDuration = clamp(time.Duration(perItem*sessionItems) - in.Elapsed)
		est.ETABlended = (est.ETAByDuration + est.ETAByThroughput) / 2
	} else {
		est.ETABlended = est.ETAByThroughput
	}

	if est.MeanRatio < 1 && in.PendingBytes > 0 {
		est.ProjectedSavings = int64((1 - est.MeanRatio) * float64(in.PendingBytes))
	}
	return est
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
