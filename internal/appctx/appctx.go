// Package appctx assembles the pipeline coordinator's dependency graph
// from a loaded config into the handful of long-lived objects main wires
// together: store, ledger, signer registry, adapters, intervention queue,
// and orchestrator. It replaces the blockchain_instance/audit_logger
// module-level singletons of the original Python service with one value
// constructed once at startup and threaded explicitly, the way the teacher
// threads its repository and service registry through app.NewABCIApplication
// and server.NewWebServer instead of reaching for package state.
package appctx

import (
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/omr-eval/pipeline/internal/adapters"
	"github.com/omr-eval/pipeline/internal/config"
	"github.com/omr-eval/pipeline/internal/intervention"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/orchestrator"
	"github.com/omr-eval/pipeline/internal/signers"
	"github.com/omr-eval/pipeline/internal/store"
)

// Context holds every long-lived dependency the HTTP surface and
// background jobs need.
type Context struct {
	Config  *config.Config
	Logger  logging.Logger
	Store   *store.Store
	Journal *store.Journal
	Chain   *ledger.Ledger
	Signers *signers.Registry
	Queue   *intervention.Queue
	Orch    *orchestrator.Orchestrator

	badgerDB *badger.DB
}

// Build connects the store, opens the ledger, loads signer keys, builds
// the four adapters, and assembles the orchestrator, in the dependency
// order each constructor requires.
func Build(cfg *config.Config, logger logging.Logger) (*Context, error) {
	signerReg, err := signers.Load(cfg.Signers.RegistryPath)
	if err != nil {
		return nil, err
	}

	s, err := store.Connect(cfg.Postgres.DSN, logger)
	if err != nil {
		return nil, err
	}
	journal := store.NewJournal(s)

	badgerDB, err := badger.Open(badger.DefaultOptions(cfg.Ledger.Path))
	if err != nil {
		return nil, err
	}
	chain, err := ledger.Open(badgerDB, cfg.Ledger.DifficultyHexZeros, signerReg, logger)
	if err != nil {
		return nil, err
	}

	queue, err := intervention.NewQueue(s, journal, chain, logger)
	if err != nil {
		return nil, err
	}

	adapterCfg := func(rateKey string) adapters.Config {
		return adapters.Config{
			Timeout:            secondsToDuration(cfg.Adapter.TimeoutSeconds),
			MaxAttempts:        cfg.Adapter.MaxAttempts,
			TotalBudget:        secondsToDuration(cfg.Adapter.TotalBudgetSeconds),
			RateLimitPerSecond: cfg.Adapter.RateLimitPerSecond[rateKey],
		}
	}
	quality := adapters.NewQualityAdapter(cfg.Adapter.QualityBaseURL, adapterCfg("assess_quality"), logger)
	reconstruct := adapters.NewReconstructionAdapter(cfg.Adapter.ReconstructBaseURL, adapterCfg("reconstruct"), logger)
	verify := adapters.NewVerifyAdapter(cfg.Adapter.VerifyBaseURL, adapterCfg("verify_answer_key"), logger)
	solve := adapters.NewSolveAdapter(cfg.Adapter.SolveBaseURL, adapterCfg("solve_question"), logger)

	orchCfg := orchestrator.Config{
		Workers:                cfg.Orchestrator.Workers,
		AISolveMode:            cfg.Orchestrator.AISolveMode,
		LowConfidenceThreshold: cfg.Reconciliation.LowConfidenceThreshold,
		MarksTallyTolerance:    cfg.Scoring.MarksTallyTolerance,
		MultipleMarkPolicy:     cfg.Scoring.MultipleMarkPolicy,
		QualityProceedMinScore: cfg.Quality.ProceedMinScore,
		QualityRejectMaxScore:  cfg.Quality.RejectMaxScore,
	}
	orch := orchestrator.New(s, journal, chain, queue, quality, reconstruct, verify, solve, logger, orchCfg)

	return &Context{
		Config:   cfg,
		Logger:   logger,
		Store:    s,
		Journal:  journal,
		Chain:    chain,
		Signers:  signerReg,
		Queue:    queue,
		Orch:     orch,
		badgerDB: badgerDB,
	}, nil
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// Close releases the badger handle. The postgres pool is left open for
// gorm's own lifecycle management, matching the teacher's repository,
// which never closes its *gorm.DB either.
func (c *Context) Close() error {
	if c.badgerDB == nil {
		return nil
	}
	return c.badgerDB.Close()
}
