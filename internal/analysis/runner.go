package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/filing-analyzer/internal/docstore"
	"github.com/sells-group/filing-analyzer/internal/extract"
	"github.com/sells-group/filing-analyzer/internal/llm"
	"github.com/sells-group/filing-analyzer/internal/model"
	"github.com/sells-group/filing-analyzer/internal/store"
)

// Runner executes risk-evolution jobs in the background. Each submission is
// a tracked goroutine; Shutdown cancels in-flight work and waits for it, so
// what happens to jobs on process exit is an explicit contract rather than
// an accident of fire-and-forget.
type Runner struct {
	store    store.Store
	docs     *docstore.Dirs
	provider llm.Provider
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires the runner. provider may be nil when no LLM is configured;
// submissions then fail with llm.ErrUnavailable while the rest of the API
// keeps working.
func NewRunner(st store.Store, docs *docstore.Dirs, provider llm.Provider, registry *Registry) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    st,
		docs:     docs,
		provider: provider,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Available reports whether an LLM provider is configured.
func (r *Runner) Available() bool {
	return r.provider != nil
}

// ProviderName returns the active provider's name, or "" when unavailable.
func (r *Runner) ProviderName() string {
	if r.provider == nil {
		return ""
	}
	return r.provider.Name()
}

// Submit registers a job and launches it in the background, returning the
// job id immediately. The caller polls the registry for progress. Jobs for
// the same company and year are not deduplicated; each submission inserts
// its own result row.
func (r *Runner) Submit(symbol string, fiscalYear int) (string, error) {
	if r.provider == nil {
		return "", eris.Wrap(llm.ErrUnavailable, "analysis: submit")
	}
	if err := r.ctx.Err(); err != nil {
		return "", eris.Wrap(err, "analysis: runner shutting down")
	}

	job := r.registry.Create()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(r.ctx, job.ID, symbol, fiscalYear)
	}()

	return job.ID, nil
}

// Shutdown cancels in-flight jobs and waits for their goroutines to exit.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, jobID, symbol string, fiscalYear int) {
	log := zap.L().With(
		zap.String("job_id", jobID),
		zap.String("company", symbol),
		zap.Int("fiscal_year", fiscalYear),
	)

	fail := func(stage string, err error) {
		log.Warn("analysis job failed", zap.String("stage", stage), zap.Error(err))
		r.registry.Fail(jobID, err.Error())
	}

	// Step 1: load current and prior year documents. The current year is
	// required; the prior year is a comparison baseline we can do without.
	var current, prior *model.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.store.GetDocumentByYear(gctx, symbol, fiscalYear)
		if err != nil {
			return err
		}
		current = d
		return nil
	})
	g.Go(func() error {
		d, err := r.store.GetDocumentByYear(gctx, symbol, fiscalYear-1)
		if err == nil {
			prior = d
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			fail("load documents", eris.Errorf("no document for %s fiscal year %d", symbol, fiscalYear))
		} else {
			fail("load documents", err)
		}
		return
	}
	r.registry.Progress(jobID, 20, "documents loaded")

	// Step 2: read extracted text and locate the risk factors section.
	currentText, err := r.docs.ReadExtracted(current.ID)
	if err != nil {
		fail("read extracted text", err)
		return
	}
	currentSection := extract.Section(currentText, "risk_factors")

	var priorSection string
	if prior != nil {
		priorText, err := r.docs.ReadExtracted(prior.ID)
		if err != nil {
			// A missing prior text file degrades to a single-year analysis,
			// same as a missing prior document.
			log.Warn("prior year text unreadable, continuing without baseline", zap.Error(err))
		} else {
			priorSection = extract.Section(priorText, "risk_factors")
		}
	}
	r.registry.Progress(jobID, 40, "risk factors located")

	// Step 3: prompt the model.
	prompt := BuildRiskPrompt(currentSection, priorSection)
	raw, err := r.provider.Generate(ctx, prompt)
	if err != nil {
		fail("llm generate", err)
		return
	}
	r.registry.Progress(jobID, 60, "model response received")

	// Step 4: parse and validate the response.
	result, err := ParseRiskAnalysis(raw)
	if err != nil {
		fail("parse response", err)
		return
	}
	r.registry.Progress(jobID, 80, "response parsed")

	// Step 5: persist. Repeated analysis appends; there is no uniqueness
	// constraint on (company, fiscal_year).
	metric := model.RiskMetric{
		CompanySymbol: symbol,
		FiscalYear:    fiscalYear,
		RiskAnalysis:  *result,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := r.store.CreateRiskMetric(ctx, metric); err != nil {
		fail("persist result", err)
		return
	}

	r.registry.Complete(jobID, result)
	log.Info("analysis job complete",
		zap.Float64("urgency_score", result.UrgencyScore),
		zap.Int("new_risks", len(result.NewRisks)),
	)
}
