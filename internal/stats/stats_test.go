package stats

import (
	"testing"
	"time"

	"ffbatch/internal/ledger"
)

func rec(orig, size int64, wall, media time.Duration, speed float64) ledger.Record {
	return ledger.Record{
		Successful:    true,
		OriginalSize:  orig,
		NewSize:       size,
		Elapsed:       wall,
		MediaDuration: media,
		AverageSpeed:  speed,
	}
}

func TestComputeRequiresMinimumSamples(t *testing.T) {
	in := EstimateInput{
		Records:   []ledger.Record{rec(100, 50, time.Minute, 2*time.Minute, 2), rec(100, 50, time.Minute, 2*time.Minute, 2)},
		Remaining: 10,
	}
	est := Compute(in)
	if est.Ready || est.ETABlended != 0 {
		t.Fatalf("two samples should not produce an estimate: %+v", est)
	}
	if est.Samples != 2 {
		t.Fatalf("Samples = %d", est.Samples)
	}
}

func TestComputeProjections(t *testing.T) {
	records := []ledger.Record{
		rec(100, 40, 10*time.Minute, 20*time.Minute, 2),
		rec(100, 60, 10*time.Minute, 20*time.Minute, 2),
		rec(100, 50, 10*time.Minute, 20*time.Minute, 2),
	}
	est := Compute(EstimateInput{
		Records:          records,
		Remaining:        3,
		SessionCompleted: 3,
		PendingBytes:     1000,
		Parallelism:      2,
		Elapsed:          10 * time.Minute,
	})
	if !est.Ready {
		t.Fatal("expected Ready")
	}
	// session items 6 / parallelism 2 = 3 rounds
	if want := 20 * time.Minute; est.ETAByThroughput != want {
		t.Fatalf("ETAByThroughput = %v, want %v", est.ETAByThroughput, want)
	}
	// 20m media / 2x = 10m per item, 3 rounds = 30m, minus 10m elapsed
	if want := 20 * time.Minute; est.ETAByDuration != want {
		t.Fatalf("ETAByDuration = %v, want %v", est.ETAByDuration, want)
	}
	if est.ETABlended != 20*time.Minute {
		t.Fatalf("ETABlended = %v", est.ETABlended)
	}
	if est.MeanRatio != 0.5 {
		t.Fatalf("MeanRatio = %v, want 0.5", est.MeanRatio)
	}
	if est.ProjectedSavings != 500 {
		t.Fatalf("ProjectedSavings = %d, want 500", est.ProjectedSavings)
	}
	if est.SavedBytes != 150 {
		t.Fatalf("SavedBytes = %d, want 150", est.SavedBytes)
	}
}

func TestComputeBlendsDifferingProjections(t *testing.T) {
	records := []ledger.Record{
		rec(10, 5, time.Minute, 4*time.Minute, 1),
		rec(10, 5, time.Minute, 4*time.Minute, 1),
		rec(10, 5, time.Minute, 4*time.Minute, 1),
	}
	est := Compute(EstimateInput{Records: records, Remaining: 2, Parallelism: 1})
	if est.ETAByThroughput != 2*time.Minute || est.ETAByDuration != 8*time.Minute {
		t.Fatalf("projections = %v / %v", est.ETAByThroughput, est.ETAByDuration)
	}
	if est.ETABlended != 5*time.Minute {
		t.Fatalf("ETABlended = %v, want 5m", est.ETABlended)
	}
}

func TestComputeClampsNegativeETA(t *testing.T) {
	records := []ledger.Record{
		rec(10, 5, time.Second, time.Second, 1),
		rec(10, 5, time.Second, time.Second, 1),
		rec(10, 5, time.Second, time.Second, 1),
	}
	est := Compute(EstimateInput{Records: records, Remaining: 1, Elapsed: time.Hour})
	if est.ETAByDuration != 0 || est.ETAByThroughput != 0 || est.ETABlended != 0 {
		t.Fatalf("negative ETA not clamped: %+v", est)
	}
}

func TestAggregateIgnoresAbortedForRatios(t *testing.T) {
	records := []ledger.Record{
		rec(100, 50, time.Minute, time.Minute, 2),
		{Successful: false, OriginalSize: 100, NewSize: 120, AverageSpeed: 4},
	}
	agg := Aggregate(records, []float64{3, 0})
	if agg.Samples != 1 || agg.MeanRatio != 0.5 {
		t.Fatalf("agg = %+v", agg)
	}
	if agg.MeanSpeed != 3 {
		t.Fatalf("MeanSpeed = %v, want 3 (2, 4, 3)", agg.MeanSpeed)
	}
}

func TestComputeWithoutSpeedFallsBackToThroughput(t *testing.T) {
	records := []ledger.Record{
		rec(10, 5, time.Minute, 0, 0),
		rec(10, 5, time.Minute, 0, 0),
		rec(10, 5, time.Minute, 0, 0),
	}
	est := Compute(EstimateInput{Records: records, Remaining: 4, Parallelism: 1})
	if est.ETABlended != est.ETAByThroughput || est.ETAByDuration != 0 {
		t.Fatalf("est = %+v", est)
	}
}
