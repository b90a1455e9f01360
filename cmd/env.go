package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-analyzer/internal/analysis"
	"github.com/sells-group/filing-analyzer/internal/config"
	"github.com/sells-group/filing-analyzer/internal/docstore"
	"github.com/sells-group/filing-analyzer/internal/llm"
	"github.com/sells-group/filing-analyzer/internal/store"
)

// env holds the wired service components shared by the commands.
type env struct {
	Store    store.Store
	Docs     *docstore.Dirs
	Registry *analysis.Registry
	Runner   *analysis.Runner
}

// initEnv builds the store, document directories, LLM generator, and job
// runner from config. A misconfigured LLM provider degrades analysis to
// unavailable instead of failing startup.
func initEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	docs, err := docstore.New(cfg.Storage.UploadDir, cfg.Storage.ExtractedDir)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init document storage")
	}

	var provider llm.Provider
	gen, err := llm.New(cfg)
	if err != nil {
		zap.L().Warn("llm provider unavailable, analysis endpoints will fail",
			zap.String("provider", cfg.LLM.Provider),
			zap.Error(err),
		)
	} else {
		provider = gen
		zap.L().Info("llm provider ready", zap.String("provider", gen.Name()))
	}

	registry := analysis.NewRegistry()
	runner := analysis.NewRunner(st, docs, provider, registry)

	return &env{Store: st, Docs: docs, Registry: registry, Runner: runner}, nil
}

// Close drains in-flight analysis jobs, then releases the store.
func (e *env) Close() {
	e.Runner.Shutdown()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
