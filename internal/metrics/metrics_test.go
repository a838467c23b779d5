package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	r := New(reg)

	r.Validation("buyer", "valid")
	r.Validation("buyer", "valid")
	r.Validation("farmer", "expired")
	r.Remember("retrieve", "hit")
	r.CodecFailure("decode")
	r.APIRequest("validate-token", 200, 15*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(r.validations.WithLabelValues("buyer", "valid")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.validations.WithLabelValues("farmer", "expired")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.remember.WithLabelValues("retrieve", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.codecFailures.WithLabelValues("decode")))

	n, err := testutil.GatherAndCount(reg, "agm_api_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	require.NotPanics(t, func() {
		r.Validation("buyer", "valid")
		r.Remember("store", "ok")
		r.CodecFailure("encode")
		r.APIRequest("login", 0, time.Second)
	})
}
