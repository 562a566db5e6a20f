package deferred

import (
	"context"
	"fmt"
	"slices"
)

// LoadState tracks whether a proxy has materialized its working set.
type LoadState uint8

// Load states.
const (
	// Ghost proxies hold no working set; diff queries report no changes.
	Ghost LoadState = iota
	// Loaded proxies own a working set and a frozen baseline.
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Ghost:
		return "ghost"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("LoadState(%d)", uint8(s))
	}
}

// State returns the current load state.
func (p *Proxy[E]) State() LoadState { return p.state }

// Loaded reports whether the working set has been materialized.
func (p *Proxy[E]) Loaded() bool { return p.state == Loaded }

// Load materializes the relation if it is still a ghost. It fetches at most
// once per ghost period.
func (p *Proxy[E]) Load(ctx context.Context) error {
	if p.state == Loaded {
		return nil
	}
	fetched, err := observe(ctx, p, "fetch_all", func() ([]E, error) {
		return p.src.FetchAll(ctx)
	})
	if err != nil {
		return p.wrap("load", err)
	}
	fetched = withoutZero(fetched)
	p.working = slices.Clone(fetched)
	p.baseline = slices.Clip(slices.Clone(fetched))
	p.state = Loaded
	p.cfg.logger.Debug("relation loaded", "relation", p.cfg.name, "members", len(fetched))
	return nil
}

// Reload discards the working set and baseline and asks the source to drop
// its cache. The next operation that needs members fetches again. Listener
// registrations are kept.
func (p *Proxy[E]) Reload(ctx context.Context) error {
	_, err := observe(ctx, p, "reload", func() (struct{}, error) {
		return struct{}{}, p.src.Reload(ctx)
	})
	p.invalidate()
	if err != nil {
		return p.wrap("reload", err)
	}
	return nil
}

// Reset is an alias for Reload.
func (p *Proxy[E]) Reset(ctx context.Context) error {
	return p.Reload(ctx)
}

func (p *Proxy[E]) invalidate() {
	if p.state == Loaded {
		p.cfg.logger.Debug("relation invalidated", "relation", p.cfg.name, "discarded_links", len(p.Links()), "discarded_unlinks", len(p.Unlinks()))
	}
	p.state = Ghost
	p.working = nil
	p.baseline = nil
}

// Commit acknowledges a successful parent save: the working set becomes the
// new baseline and the source drops whatever it cached. No fetch is issued.
// Committing a ghost proxy only resets the source cache.
func (p *Proxy[E]) Commit(ctx context.Context) error {
	if p.state == Loaded {
		p.baseline = slices.Clip(slices.Clone(p.working))
		p.cfg.logger.Debug("relation committed", "relation", p.cfg.name, "members", len(p.working))
	}
	_, err := observe(ctx, p, "reload", func() (struct{}, error) {
		return struct{}{}, p.src.Reload(ctx)
	})
	if err != nil {
		return p.wrap("commit", err)
	}
	return nil
}

// observe times a source call and reports it to the metrics recorder.
func observe[E Element, T any](ctx context.Context, p *Proxy[E], op string, call func() (T, error)) (T, error) {
	start := p.cfg.now()
	out, err := call()
	p.cfg.metrics.Observe(ctx, p.cfg.name+"."+op, err == nil, p.cfg.now().Sub(start))
	return out, err
}
