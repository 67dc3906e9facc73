package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 300 * time.Second

// Budgeter supplies the active tier and accumulates spend. Satisfied by
// budget.Controller.
type Budgeter interface {
	// TierFor returns the highest tier permitted given the estimated cost.
	TierFor(estimatedCost float64) models.Tier
	// RecordSpend adds a completed call's actual cost to the window.
	RecordSpend(amount float64)
}

// Router selects a provider chain by budget tier and walks it with
// per-provider circuit breakers. A call that fails or times out trips the
// breaker and falls through to the next provider in the chain; when the
// chain is exhausted the router degrades to the next lower tier's chain
// before giving up.
type Router struct {
	// chains maps each tier to its ordered provider preference list.
	chains map[models.Tier][]Client
	// breakers holds one breaker per provider name.
	breakers map[string]*Breaker
	// budget resolves the tier and records spend.
	budget Budgeter
	// callTimeout bounds each individual provider call.
	callTimeout time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithBreakerConfig replaces the breaker parameters applied to every
// provider.
func WithBreakerConfig(cfg BreakerConfig) RouterOption {
	return func(r *Router) {
		for name := range r.breakers {
			r.breakers[name] = NewBreaker(name, cfg)
		}
	}
}

// NewRouter creates a Router over the given tier chains. Every provider
// appearing in any chain gets its own breaker; a provider listed in more
// than one chain shares a single breaker across them.
func NewRouter(chains map[models.Tier][]Client, budget Budgeter, opts ...RouterOption) *Router {
	r := &Router{
		chains:      chains,
		breakers:    make(map[string]*Breaker),
		budget:      budget,
		callTimeout: DefaultCallTimeout,
	}
	for _, chain := range chains {
		for _, c := range chain {
			if _, ok := r.breakers[c.Name()]; !ok {
				r.breakers[c.Name()] = NewBreaker(c.Name(), BreakerConfig{})
			}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute resolves the tier for the estimated cost, walks that tier's chain
// and, if exhausted, each lower tier's chain in turn. The first successful
// response has its actual cost recorded against the budget. Returns
// ErrProviderExhausted when no provider completed the call.
func (r *Router) Execute(ctx context.Context, req Request, estimatedCost float64) (Response, error) {
	tier := r.budget.TierFor(estimatedCost)
	var lastErr error
	tried := 0

	for _, t := range tiersAtOrBelow(tier) {
		chain, ok := r.chains[t]
		if !ok {
			continue
		}
		for _, client := range chain {
			br := r.breakers[client.Name()]
			if err := br.Allow(); err != nil {
				lastErr = fmt.Errorf("%s: %w", client.Name(), err)
				continue
			}
			tried++

			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			resp, cost, err := client.Generate(callCtx, req)
			cancel()
			if err != nil {
				br.RecordFailure()
				lastErr = fmt.Errorf("%s: %w", client.Name(), err)
				log.Printf("[router] provider %s failed: %v", client.Name(), err)
				continue
			}
			br.RecordSuccess()
			r.budget.RecordSpend(cost)
			return resp, nil
		}
	}

	if tried == 0 && lastErr == nil {
		return Response{}, ErrNoChain
	}
	if lastErr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrProviderExhausted, lastErr)
	}
	return Response{}, ErrProviderExhausted
}

// BreakerState returns the breaker state for the named provider, for
// inspection and tests.
func (r *Router) BreakerState(name string) (BreakerState, bool) {
	br, ok := r.breakers[name]
	if !ok {
		return BreakerClosed, false
	}
	return br.State(), true
}

// Breaker returns the breaker for the named provider. Test hook.
func (r *Router) Breaker(name string) *Breaker {
	return r.breakers[name]
}

// tiersAtOrBelow lists tiers from the given tier down to local, in
// descending rank order.
func tiersAtOrBelow(t models.Tier) []models.Tier {
	all := []models.Tier{models.TierPremium, models.TierStandard, models.TierLocal}
	var out []models.Tier
	for _, cand := range all {
		if cand.Rank() <= t.Rank() {
			out = append(out, cand)
		}
	}
	return out
}
