package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

// fetchOp is one selected fetch waiting for a concurrency slot.
type fetchOp struct {
	key       inflightKey
	token     uint64
	candidate PrefetchCandidate
	decision  PrefetchDecision
}

// FetchResult is the outcome of a single fetch.
type FetchResult struct {
	CardID   string
	Resource ResourceType
	Success  bool
	Cost     float64 // 0 on failure
	Details  *Details
	PhotoURL string
	Err      error
	Duration time.Duration
}

// dispatch issues ops in order, at most MaxConcurrentRequests at a time.
// Before each op it re-checks pause, close, session end and ClearQueue;
// once any of those applies the remaining ops are abandoned.
func (e *Engine) dispatch(ctx context.Context, cc cycleContext, ops []fetchOp) {
	defer e.wg.Done()

	var running sync.WaitGroup
	for i, op := range ops {
		reason := e.haltReason(cc.generation)
		if reason == "" {
			if err := cc.sem.Acquire(ctx, 1); err != nil {
				reason = err.Error()
			} else if reason = e.haltReason(cc.generation); reason != "" {
				cc.sem.Release(1)
			}
		}
		if reason != "" {
			e.abandon(cc.id, ops[i:], reason)
			break
		}

		running.Add(1)
		go func(op fetchOp) {
			defer running.Done()
			defer cc.sem.Release(1)
			defer e.inflight.unmark(op.key, op.token)

			c := op.candidate
			e.fetch(ctx, cc.cfg, c.Card, c.Resource, c.EstimatedCost, &c.Score, &op.decision, map[string]string{
				MetaCycle:  cc.id,
				MetaReason: op.decision.Reason,
			})
		}(op)
	}
	running.Wait()
}

// haltReason returns why no further op of generation gen may be issued,
// or "" if dispatch may continue.
func (e *Engine) haltReason(gen uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return "closed"
	case e.paused:
		return "paused"
	case e.sessionEnded:
		return "session-ended"
	case e.generation != gen:
		return "cleared"
	}
	return ""
}

func (e *Engine) abandon(cycleID string, ops []fetchOp, reason string) {
	for _, op := range ops {
		e.inflight.unmark(op.key, op.token)
	}
	logrus.WithFields(logrus.Fields{
		"cycle":     cycleID,
		"abandoned": len(ops),
	}).Debugf("prefetch dispatch stopped: %s", reason)
}

// fetch performs one fetch and does all bookkeeping around it: the started
// and completed events, the ledger update, usage tracking and metrics.
// Failures are reported in the result and the completed event, never retried.
func (e *Engine) fetch(ctx context.Context, cfg Config, card Card, r ResourceType, cost float64, score *CardScore, decision *PrefetchDecision, meta map[string]string) FetchResult {
	log := logrus.WithFields(logrus.Fields{
		"card":     card.ID,
		"resource": r,
		"cost":     cost,
	})
	immediate := meta[MetaImmediate] == "true"

	started := newEvent(EventPrefetchStarted, card.ID, r, e.now())
	started.Score, started.Decision, started.Cost, started.Metadata = score, decision, cost, meta
	e.metrics.update(func(m *MetricsSnapshot) {
		m.Started++
		if immediate {
			m.ImmediateFetches++
		}
	})
	e.bus.emit(started)

	begin := time.Now()
	res := FetchResult{CardID: card.ID, Resource: r}
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	switch r {
	case ResourcePhotos:
		if len(card.PhotoRefs) == 0 {
			res.Err = fmt.Errorf("card %s has no photo reference", card.ID)
			break
		}
		res.PhotoURL, res.Err = e.places.FetchPhoto(fetchCtx, card.ID, card.PhotoRefs[0], cfg.PhotoMaxWidth, cfg.PhotoMaxHeight)
	default:
		var d Details
		if d, res.Err = e.places.FetchDetails(fetchCtx, card.ID); res.Err == nil {
			res.Details = &d
		}
	}
	cancel()
	res.Duration = time.Since(begin)

	completed := newEvent(EventPrefetchCompleted, card.ID, r, e.now())
	completed.Score, completed.Decision, completed.Metadata = score, decision, meta
	if res.Err != nil {
		completed.Err = res.Err.Error()
		e.metrics.update(func(m *MetricsSnapshot) { m.Failed++ })
		log.WithError(res.Err).Debug("prefetch failed")
	} else {
		res.Success, res.Cost = true, cost
		if _, err := e.ledger.Record(ctx, r, cost); err != nil {
			log.WithError(err).Warn("prefetch spend not persisted")
		}
		e.usage.recordFetched(inflightKey{CardID: card.ID, Resource: r}, cost)
		e.metrics.update(func(m *MetricsSnapshot) {
			m.Succeeded++
			m.SpendByResource[r] += cost
		})
		completed.Success, completed.Cost = true, cost
		completed.Details, completed.PhotoURL = res.Details, res.PhotoURL
		log.Debug("prefetch completed")
	}

	e.trace.RecordExecution(trace.ExecutionRecord{
		CardID:    card.ID,
		Resource:  string(r),
		Cost:      res.Cost,
		Success:   res.Success,
		Err:       completed.Err,
		Immediate: immediate,
		Duration:  res.Duration,
	})
	e.bus.emit(completed)
	return res
}

// RequestImmediateFetch fetches r for card right away, bypassing thresholds,
// budget checks and pause. It blocks until the fetch finishes. Spend is
// still recorded and events are still emitted, tagged immediate=true.
// A fetch failure is returned both in the result and as the error.
func (e *Engine) RequestImmediateFetch(ctx context.Context, card Card, r ResourceType) (FetchResult, error) {
	if !r.IsValid() {
		return FetchResult{}, fmt.Errorf("immediate fetch: unknown resource %q", r)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return FetchResult{}, ErrEngineClosed
	}
	cfg, optimizer := e.cfg, e.optimizer
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	cost := optimizer.EstimateCost(card, r).Cost
	k := inflightKey{CardID: card.ID, Resource: r}
	if token, ok := e.inflight.tryMark(k, cost); ok {
		defer e.inflight.unmark(k, token)
	}

	res := e.fetch(ctx, cfg, card, r, cost, nil, nil, map[string]string{
		MetaImmediate: "true",
		MetaReason:    ReasonImmediate,
	})
	if res.Err != nil {
		return res, fmt.Errorf("immediate fetch %s for %s: %w", r, card.ID, res.Err)
	}
	return res, nil
}
