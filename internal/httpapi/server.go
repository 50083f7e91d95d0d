package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/omr-eval/pipeline/internal/intervention"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/orchestrator"
	"github.com/omr-eval/pipeline/internal/store"
)

// App wires the persistent store, audit ledger, intervention queue, and
// stage-machine orchestrator into the HTTP surface (C7).
type App struct {
	store   *store.Store
	chain   *ledger.Ledger
	queue   *intervention.Queue
	orch    *orchestrator.Orchestrator
	logger  logging.Logger
	reg     *ServiceRegistry
	srv     *http.Server
}

// NewApp builds the routed HTTP handler.
func NewApp(s *store.Store, chain *ledger.Ledger, q *intervention.Queue, orch *orchestrator.Orchestrator, logger logging.Logger) *App {
	a := &App{store: s, chain: chain, queue: q, orch: orch, logger: logger, reg: NewServiceRegistry()}
	a.registerRoutes()
	return a
}

// Handler returns the final http.Handler, CORS middleware included,
// mirroring the teacher's main.go wrapping its mux with cors.Default().
func (a *App) Handler() http.Handler {
	return cors.Default().Handler(a.reg)
}

// Start begins serving on addr in a background goroutine, mirroring the
// teacher's webserver.Start/Shutdown pair.
func (a *App) Start(addr string) error {
	a.srv = &http.Server{Addr: addr, Handler: a.Handler()}
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("httpapi: server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (a *App) Shutdown(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}

// registerRoutes mirrors the teacher's RegisterDefaultServices: literal
// paths register as exact routes, paths carrying a :param segment register
// as pattern routes so ServiceRegistry falls through to matchPath for them.
func (a *App) registerRoutes() {
	a.reg.Register(http.MethodPost, "/papers", true, a.handleCreatePaper)
	a.reg.Register(http.MethodGet, "/papers/:id", false, a.handleGetPaper)

	a.reg.Register(http.MethodPost, "/keys", true, a.handleCreateDraftKey)
	a.reg.Register(http.MethodGet, "/keys/:id", false, a.handleGetKey)
	a.reg.Register(http.MethodPost, "/keys/:id/verify", false, a.handleVerifyKey)
	a.reg.Register(http.MethodPost, "/keys/:id/approve", false, a.handleApproveKey)
	a.reg.Register(http.MethodPost, "/keys/:id/lock", false, a.handleLockKey)

	a.reg.Register(http.MethodPost, "/sheets", true, a.handleIngestSheet)
	a.reg.Register(http.MethodGet, "/sheets/:id", false, a.handleGetSheet)
	a.reg.Register(http.MethodPost, "/sheets/:id/quality", false, a.handleAssessQuality)
	a.reg.Register(http.MethodPost, "/sheets/:id/reconstruct", false, a.handleReconstruct)
	a.reg.Register(http.MethodPost, "/sheets/:id/bubbles", false, a.handleReadBubbles)
	a.reg.Register(http.MethodPost, "/sheets/:id/ai-solve", false, a.handleAISolve)
	a.reg.Register(http.MethodPost, "/sheets/:id/manual", false, a.handleManualEnter)
	a.reg.Register(http.MethodPost, "/sheets/:id/reconcile", false, a.handleReconcile)
	a.reg.Register(http.MethodPost, "/sheets/:id/score", false, a.handleScore)
	a.reg.Register(http.MethodPost, "/sheets/:id/finalize", false, a.handleFinalize)
	a.reg.Register(http.MethodPost, "/workflow/complete", true, a.handleWorkflowComplete)

	a.reg.Register(http.MethodGet, "/ledger/status", true, a.handleLedgerStatus)
	a.reg.Register(http.MethodGet, "/ledger/blocks", true, a.handleLedgerBlocks)
	a.reg.Register(http.MethodGet, "/ledger/block/:hash", false, a.handleLedgerBlockByHash)
	a.reg.Register(http.MethodPost, "/ledger/validate", true, a.handleLedgerValidate)

	a.reg.Register(http.MethodGet, "/interventions", true, a.handleListInterventions)
	a.reg.Register(http.MethodPost, "/interventions/:id/claim", false, a.handleClaimIntervention)
	a.reg.Register(http.MethodPost, "/interventions/:id/resolve", false, a.handleResolveIntervention)

	metricsHandler := promhttp.Handler()
	a.reg.Register(http.MethodGet, "/metrics", true, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metricsHandler.ServeHTTP(w, r)
	})
}
