package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes completion requests.
// Bindings map a capability (agent type) to a provider; unbound
// capabilities fall back to the default provider.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // capability -> provider id
	fallbacks map[string][]string // capability -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the
// default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes a capability's requests to a specific provider.
func (r *Router) Bind(capability, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[capability] = providerID
}

// SetFallbacks configures fallback providers for a capability.
func (r *Router) SetFallbacks(capability string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[capability] = providerIDs
}

// Route sends a chat request through the capability's bound provider,
// falling back down the configured chain on error.
func (r *Router) Route(ctx context.Context, capability string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.resolve(capability)
	fallbacks := r.fallbacks[capability]
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for capability %s", capability)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("capability", capability), zap.Error(err))

	for _, fbID := range fallbacks {
		r.mu.RLock()
		fb, ok := r.providers[fbID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if resp, fbErr := fb.Chat(ctx, req); fbErr == nil {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("all providers failed for capability %s: %w", capability, err)
}

// resolve picks the bound provider or the default. Caller holds the lock.
func (r *Router) resolve(capability string) Provider {
	if id, ok := r.bindings[capability]; ok {
		if p, ok := r.providers[id]; ok {
			return p
		}
	}
	return r.providers[r.defaults]
}
