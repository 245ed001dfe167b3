package rag

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/DocQA-Labs/docrag/internal/cache"
	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/search"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// bundle is one namespace's resident pipeline: index residency, the
// hybrid engine, the model stages, and the answer cache.
type bundle struct {
	id       namespace.ID
	scenario config.ScenarioConfig

	manager   *namespace.Manager
	engine    *search.Engine
	analyzer  *search.Analyzer
	router    *search.Router
	navigator *search.Navigator
	verifier  *search.Verifier

	// cache is nil when answer caching is disabled.
	cache *cache.Smart[AnswerRecord]

	lastUsed time.Time
}

// newBundle assembles the pipeline for one namespace from the live
// configuration. Indices are not touched here; the manager loads them
// on first retrieval.
func (o *Orchestrator) newBundle(id namespace.ID) (*bundle, error) {
	cfg := o.cfg
	scen := cfg.ScenarioFor(id.Scenario)

	manager := namespace.NewManager(id, o.layout, namespace.ManagerConfig{
		BM25:           store.DefaultBM25Config(),
		Vector:         store.DefaultVectorConfig(cfg.LLM.EmbeddingDimensions),
		KeywordBackend: cfg.Retrieval.KeywordBackend,
		VectorBackend:  cfg.Retrieval.VectorBackend,
	})

	engine, err := search.NewEngine(manager, o.gateway, search.EngineConfig{
		UseBM25:       cfg.Retrieval.UseBM25,
		UseVector:     cfg.Retrieval.UseVector,
		RRFK:          cfg.Retrieval.RRFK,
		BM25Weight:    cfg.Retrieval.BM25Weight,
		VectorWeight:  cfg.Retrieval.VectorWeight,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval engine for %s: %w", id, err)
	}

	analyzer, err := search.NewAnalyzer(o.gateway, search.AnalyzerConfig{
		Model:           cfg.LLM.FastModel,
		GuidanceMarkers: scen.GuidanceMarkers,
		AnalysisMarkers: scen.AnalysisMarkers,
		KeywordLibrary:  scen.KeywordLibrary,
	})
	if err != nil {
		return nil, fmt.Errorf("query analyzer for %s: %w", id, err)
	}

	router := search.NewRouter(o.gateway, search.RouterConfig{
		Model:               cfg.LLM.FastModel,
		ContinuationMarkers: scen.ContinuationMarkers,
		NonTerminalSuffixes: scen.NonTerminalSuffixes,
	})
	navigator := search.NewNavigator(router, search.NavigatorConfig{
		MaxRounds:    cfg.Navigator.MaxRounds,
		TargetTokens: cfg.Navigator.TargetTokens,
	})

	verifier, err := search.NewVerifier(o.gateway, search.VerifierConfig{
		Model:            cfg.LLM.QualityModel,
		CitationPatterns: scen.CitationPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("answer verifier for %s: %w", id, err)
	}

	b := &bundle{
		id:        id,
		scenario:  scen,
		manager:   manager,
		engine:    engine,
		analyzer:  analyzer,
		router:    router,
		navigator: navigator,
		verifier:  verifier,
	}

	if cfg.Cache.Enabled {
		b.cache = cache.New[AnswerRecord](id.String(), o.gateway, cache.Config{
			MaxSize:           cfg.Cache.MaxSize,
			SemanticThreshold: cfg.Cache.SemanticThreshold,
			ExactTTL:          config.DurationOrDefault(cfg.Cache.ExactTTL, cache.DefaultExactTTL),
			SemanticTTL:       config.DurationOrDefault(cfg.Cache.SemanticTTL, cache.DefaultSemanticTTL),
		})
		if cfg.Cache.Persist {
			if n, err := b.cache.LoadSnapshot(o.layout.CacheSnapshotPath(id)); err != nil {
				slog.Warn("answer cache snapshot not restored", "namespace", id.String(), "error", err)
			} else if n > 0 {
				slog.Debug("answer cache restored", "namespace", id.String(), "entries", n)
			}
		}
	}
	return b, nil
}

// bundleFor returns the resident bundle for id, creating it on first
// use. Residency is capped; creating past the cap retires the least
// recently used namespace first.
func (o *Orchestrator) bundleFor(id namespace.ID) (*bundle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if b, ok := o.bundles[id]; ok {
		b.lastUsed = time.Now()
		return b, nil
	}

	if limit := o.cfg.Namespaces.MaxLoaded; limit > 0 && len(o.bundles) >= limit {
		o.retireOldestLocked()
	}

	b, err := o.newBundle(id)
	if err != nil {
		return nil, err
	}
	b.lastUsed = time.Now()
	o.bundles[id] = b
	slog.Info("namespace resident", "namespace", id.String(), "loaded", len(o.bundles))
	return b, nil
}

// peekBundle returns the resident bundle or nil, never creating one.
func (o *Orchestrator) peekBundle(id namespace.ID) *bundle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bundles[id]
}

// LoadedNamespaces returns the identities of the namespaces currently
// resident in memory, sorted.
func (o *Orchestrator) LoadedNamespaces() []namespace.ID {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]namespace.ID, 0, len(o.bundles))
	for id := range o.bundles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// PersistNamespace snapshots the namespace's answer cache to disk.
// Reports whether a write was attempted: false means the namespace is
// not resident, caching is off, or persistence is disabled.
func (o *Orchestrator) PersistNamespace(id namespace.ID) bool {
	b := o.peekBundle(id)
	if b == nil || b.cache == nil || !o.cfg.Cache.Persist {
		return false
	}
	o.persistCache(b)
	return true
}

func (o *Orchestrator) retireOldestLocked() {
	var victim *bundle
	for _, b := range o.bundles {
		if victim == nil || b.lastUsed.Before(victim.lastUsed) {
			victim = b
		}
	}
	if victim == nil {
		return
	}
	delete(o.bundles, victim.id)
	o.persistCache(victim)
	if err := victim.manager.Close(); err != nil {
		slog.Warn("index close failed", "namespace", victim.id.String(), "error", err)
	}
	slog.Info("namespace retired", "namespace", victim.id.String())
}

// persistCache snapshots a bundle's answer cache when persistence is
// on. A failure only costs warm answers on the next start.
func (o *Orchestrator) persistCache(b *bundle) {
	if b.cache == nil || !o.cfg.Cache.Persist {
		return
	}
	if err := b.cache.SaveSnapshot(o.layout.CacheSnapshotPath(b.id)); err != nil {
		slog.Warn("answer cache snapshot failed", "namespace", b.id.String(), "error", err)
	}
}
