package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactRouteTakesPrecedenceOverPattern(t *testing.T) {
	reg := NewServiceRegistry()
	var hitExact, hitPattern bool
	reg.Register(http.MethodGet, "/sheets/active", true, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		hitExact = true
	})
	reg.Register(http.MethodGet, "/sheets/:id", false, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		hitPattern = true
	})

	req := httptest.NewRequest(http.MethodGet, "/sheets/active", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.True(t, hitExact)
	require.False(t, hitPattern)
}

func TestPatternRouteBindsParams(t *testing.T) {
	reg := NewServiceRegistry()
	var gotID string
	reg.Register(http.MethodGet, "/sheets/:id", false, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		gotID = params["id"]
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/sheets/abc-123", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "abc-123", gotID)
}

func TestPatternRouteRequiresEqualSegmentCount(t *testing.T) {
	reg := NewServiceRegistry()
	called := false
	reg.Register(http.MethodGet, "/sheets/:id", false, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/sheets/abc/quality", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.False(t, called)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	reg := NewServiceRegistry()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodMismatchDoesNotMatch(t *testing.T) {
	reg := NewServiceRegistry()
	reg.Register(http.MethodPost, "/sheets", true, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodGet, "/sheets", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMultiSegmentPatternMatch(t *testing.T) {
	reg := NewServiceRegistry()
	var stageParam string
	reg.Register(http.MethodPost, "/sheets/:id/:stage", false, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		stageParam = params["stage"]
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/sheets/s1/reconcile", nil)
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "reconcile", stageParam)
}
