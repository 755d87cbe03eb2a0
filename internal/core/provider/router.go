package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

// Kind names one analysis backend variant.
type Kind string

const (
	KindCloud     Kind = "cloud"
	KindLocal     Kind = "local"
	KindSimulated Kind = "simulated"

	FallbackKind = KindLocal
)

var ErrNoProvider = fmt.Errorf("%w: no analysis provider registered for fallback kind %q", domain.ErrConfiguration, FallbackKind)

// ParseKind returns false for anything outside the known variants.
func ParseKind(raw string) (Kind, bool) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindCloud, KindLocal, KindSimulated:
		return kind, true
	default:
		return "", false
	}
}

// Factory builds the provider for a kind. It is called at most once per kind.
type Factory func() (ports.AnalysisProvider, error)

type Health struct {
	Kind      Kind   `json:"kind"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Router resolves provider kinds to lazily created singletons.
type Router struct {
	defaultKind Kind
	logger      *slog.Logger

	mu        sync.Mutex
	factories map[Kind]Factory
	instances map[Kind]ports.AnalysisProvider
}

func NewRouter(defaultKind string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	kind, ok := ParseKind(defaultKind)
	if !ok {
		logger.Warn("analysis_mode_unknown", "mode", defaultKind, "fallback", FallbackKind)
		kind = FallbackKind
	}
	return &Router{
		defaultKind: kind,
		logger:      logger,
		factories:   make(map[Kind]Factory),
		instances:   make(map[Kind]ports.AnalysisProvider),
	}
}

// Register installs a factory. The last registration for a kind wins and
// drops any cached instance.
func (r *Router) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
	delete(r.instances, kind)
}

func (r *Router) DefaultKind() Kind {
	return r.defaultKind
}

// Resolve returns the provider for raw. An empty raw selects the configured
// kind; unknown or unregistered kinds fall back to FallbackKind.
func (r *Router) Resolve(raw string) (ports.AnalysisProvider, error) {
	kind := r.defaultKind
	if strings.TrimSpace(raw) != "" {
		parsed, ok := ParseKind(raw)
		if !ok {
			r.logger.Warn("analysis_provider_unknown", "kind", raw, "fallback", FallbackKind)
			parsed = FallbackKind
		}
		kind = parsed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[kind]; !ok {
		if kind != FallbackKind {
			r.logger.Warn("analysis_provider_unregistered", "kind", kind, "fallback", FallbackKind)
		}
		kind = FallbackKind
	}
	return r.instanceLocked(kind)
}

// MustResolve panics when not even the fallback kind can be resolved.
func (r *Router) MustResolve() ports.AnalysisProvider {
	p, err := r.Resolve("")
	if err != nil {
		panic(err)
	}
	return p
}

// Health reports availability for every registered kind.
func (r *Router) Health(ctx context.Context) []Health {
	r.mu.Lock()
	kinds := make([]Kind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	r.mu.Unlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]Health, 0, len(kinds))
	for _, kind := range kinds {
		r.mu.Lock()
		p, err := r.instanceLocked(kind)
		r.mu.Unlock()
		if err != nil {
			out = append(out, Health{Kind: kind, Error: err.Error()})
			continue
		}
		out = append(out, Health{Kind: kind, Name: p.Name(), Available: p.IsAvailable(ctx)})
	}
	return out
}

func (r *Router) instanceLocked(kind Kind) (ports.AnalysisProvider, error) {
	if p, ok := r.instances[kind]; ok {
		return p, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, ErrNoProvider
	}
	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w: %w", kind, domain.ErrConfiguration, err)
	}
	r.instances[kind] = p
	r.logger.Info("analysis_provider_created", "kind", kind, "name", p.Name())
	return p, nil
}
