package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/logging"
)

func TestQualityAdapterRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quality_score":0.9,"is_recoverable":true}`))
	}))
	defer srv.Close()

	a := NewQualityAdapter(srv.URL, Config{
		Timeout:     5 * time.Second,
		MaxAttempts: 5,
		TotalBudget: 5 * time.Second,
	}, logging.Nop())

	report, err := a.AssessQuality(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 0.9, report.QualityScore)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestQualityAdapterPermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewQualityAdapter(srv.URL, Config{
		Timeout:     5 * time.Second,
		MaxAttempts: 5,
		TotalBudget: 5 * time.Second,
	}, logging.Nop())

	_, err := a.AssessQuality(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Equal(t, apperrors.KindAdapterUnavailable, apperrors.KindOf(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestQualityAdapterExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewQualityAdapter(srv.URL, Config{
		Timeout:     5 * time.Second,
		MaxAttempts: 2,
		TotalBudget: 5 * time.Second,
	}, logging.Nop())

	_, err := a.AssessQuality(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Equal(t, apperrors.KindAdapterUnavailable, apperrors.KindOf(err))
}
