package parser

import (
	"fmt"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

// Registry maps each category to its Strategy.
type Registry struct {
	strategies map[announcement.Category]Strategy
}

// NewRegistry builds a registry. A category registered twice is a programming
// error and panics.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[announcement.Category]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.strategies[s.Category()]; dup {
			panic(fmt.Sprintf("parser: duplicate strategy for %s", s.Category()))
		}
		r.strategies[s.Category()] = s
	}
	return r
}

// Lookup returns the strategy for c.
func (r *Registry) Lookup(c announcement.Category) (Strategy, bool) {
	s, ok := r.strategies[c]
	return s, ok
}

// Categories lists the registered categories in tab order.
func (r *Registry) Categories() []announcement.Category {
	out := make([]announcement.Category, 0, len(r.strategies))
	for _, c := range announcement.All() {
		if _, ok := r.strategies[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

var defaultRegistry = NewRegistry(
	NewPrequalification(),
	NewBidding(),
	NewProcurement(),
	NewCandidatePublicity(),
	NewResultAnnouncement(),
)

// Default returns the registry holding every built-in strategy.
func Default() *Registry { return defaultRegistry }
