package tag

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// Start begins the periodic poll cycle in a background goroutine.
// The first cycle runs immediately.
func (r *Registry) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	r.wg.Add(1)
	go r.pollLoop(ctx)

	r.logger.Info("tag poller started",
		"interval", r.opts.PollInterval,
		"read_timeout", r.opts.ReadTimeout,
		"adapters", len(r.adapters),
	)
	return nil
}

// Stop halts the poll cycle and waits for the current cycle to finish.
// Safe to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	if r.running.CompareAndSwap(true, false) {
		r.logger.Info("tag poller stopped")
	}
}

func (r *Registry) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.PollOnce(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs one poll cycle: every hardware tag is read through its
// adapter, then the aggregate hardware status is published if it changed.
//
// Adapters are polled concurrently; tags of one adapter are read in
// definition order. A failing tag never stops the others. The only error
// returned is ctx's.
func (r *Registry) PollOnce(ctx context.Context) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for name, entries := range r.byAdapter {
		a := r.adapters[name]
		g.Go(func() error {
			for _, e := range entries {
				if err := gctx.Err(); err != nil {
					return err
				}
				r.pollTag(gctx, name, a, e)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.publishStatus()

	took := time.Since(start)
	r.cycles.Add(1)
	r.lastPoll.Store(start.UnixNano())
	r.lastDuration.Store(int64(took))
	r.metrics.PollCycleCompleted(took, len(r.staleTags()))
	return nil
}

type readResult struct {
	value any
	err   error
}

// pollTag reads one hardware tag, bounded by the read timeout.
func (r *Registry) pollTag(ctx context.Context, adapterName string, a Adapter, e *entry) {
	if !a.IsConnected() {
		r.recordFailure(e, adapterName, fmt.Errorf("%w: %s disconnected", ErrAdapter, adapterName), false)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, r.opts.ReadTimeout)
	defer cancel()

	ch := make(chan readResult, 1)
	go func() {
		v, err := a.Read(rctx, e.def.Address)
		ch <- readResult{value: v, err: err}
	}()

	var res readResult
	select {
	case res = <-ch:
	case <-rctx.Done():
		if ctx.Err() != nil {
			return
		}
		r.recordFailure(e, adapterName, fmt.Errorf("%w: %s after %s", ErrTimeout, e.def.Address, r.opts.ReadTimeout), true)
		return
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return
		}
		timeout := errors.Is(res.err, context.DeadlineExceeded)
		if timeout {
			res.err = fmt.Errorf("%w: %s after %s", ErrTimeout, e.def.Address, r.opts.ReadTimeout)
		} else if !errors.Is(res.err, ErrAdapter) {
			res.err = fmt.Errorf("%w: %w", ErrAdapter, res.err)
		}
		r.recordFailure(e, adapterName, res.err, timeout)
		return
	}

	v, err := coerce(e.def.Type, res.value)
	if err != nil {
		r.recordFailure(e, adapterName, fmt.Errorf("%w: %s: %w", ErrAdapter, e.def.Address, err), false)
		return
	}

	var recovered bool
	r.write(e, v, func(t *Tag) {
		recovered = t.Stale
		t.Stale = false
		t.ConsecutiveFailures = 0
		t.LastError = ""
	})
	if recovered {
		r.logger.Info("tag recovered", "tag", e.def.Name, "adapter", adapterName)
	}
}

// recordFailure counts a failed read. The tag turns stale once failures
// reach the stale threshold, or at once when immediate is set.
func (r *Registry) recordFailure(e *entry, adapterName string, err error, immediate bool) {
	r.metrics.ReadFailed(adapterName, immediate)

	e.mu.Lock()
	old := e.snap.Load()
	next := *old
	next.ConsecutiveFailures++
	next.LastError = err.Error()
	becameStale := !old.Stale && (immediate || next.ConsecutiveFailures >= r.opts.StaleThreshold)
	if becameStale {
		next.Stale = true
	}
	e.snap.Store(&next)
	e.mu.Unlock()

	if becameStale {
		r.logger.Warn("tag stale",
			"tag", e.def.Name,
			"adapter", adapterName,
			"failures", next.ConsecutiveFailures,
			"error", err,
		)
	} else {
		r.logger.Debug("tag read failed", "tag", e.def.Name, "adapter", adapterName, "error", err)
	}
}

// publishStatus publishes hardware.status when it differs from the last
// cycle, and keeps the connection tag in step.
func (r *Registry) publishStatus() {
	st := HardwareStatus{
		Adapters:  make(map[string]bool, len(r.adapters)),
		StaleTags: r.staleTags(),
		Timestamp: time.Now().UTC(),
	}
	for name, a := range r.adapters {
		st.Adapters[name] = a.IsConnected()
	}
	st.Connected = allConnected(st.Adapters)

	if r.opts.ConnectionTag != "" {
		r.setInternal(r.opts.ConnectionTag, st.Connected)
	}

	if r.lastStatus != nil && sameStatus(*r.lastStatus, st) {
		return
	}
	r.lastStatus = &st

	if err := r.pub.Publish(TopicHardwareStatus, st); err != nil {
		r.logger.Warn("publishing hardware status failed", "error", err)
	}
	if !st.Connected {
		r.logger.Warn("hardware not fully connected", "adapters", st.Adapters, "stale_tags", len(st.StaleTags))
	}
}

func sameStatus(a, b HardwareStatus) bool {
	return a.Connected == b.Connected &&
		maps.Equal(a.Adapters, b.Adapters) &&
		slices.Equal(a.StaleTags, b.StaleTags)
}
