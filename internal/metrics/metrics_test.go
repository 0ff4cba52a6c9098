// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()

	r.ObserveTrial(4.2, false)
	r.ObserveTrial(0, true)
	r.ObserveTrial(3.1, false)
	r.SetBestLoss(3.1)
	r.StageAttempt("read-data", OutcomeRetry)
	r.StageAttempt("read-data", OutcomeOK)
	r.StageDuration("read-data", 1500*time.Millisecond)
	r.Promotion("nyc-taxi-model", "champion", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.trials.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trials.WithLabelValues(StatusFailed)))
	assert.Equal(t, 3.1, testutil.ToFloat64(r.bestLoss))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageAttempts.WithLabelValues("read-data", OutcomeRetry)))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues("read-data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.promotions.WithLabelValues("champion")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.championVersion.WithLabelValues("nyc-taxi-model", "champion")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.trialLoss))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveTrial(1, false)
		r.SetBestLoss(1)
		r.StageAttempt("tune", OutcomeOK)
		r.StageDuration("tune", time.Second)
		r.Promotion("m", "champion", 1)
	})
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile("ignored.prom"))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.StageAttempt("tune", OutcomeOK)

	path := filepath.Join(t.TempDir(), "trip_trainer.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `trip_trainer_stage_attempts_total{outcome="success",stage="tune"} 1`)
}
