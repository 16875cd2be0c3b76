package push

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/channel"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// Backend is the slice of the review API the poller pulls from.
type Backend interface {
	ListReviews(ctx context.Context) ([]review.Document, error)
	GetReview(ctx context.Context, taskID string) (*review.Document, error)
}

type PollerOptions struct {
	Interval    time.Duration
	JitterRatio float64
	// MaxFailures is the number of consecutive poll failures tolerated
	// before the subscription is failed terminally.
	MaxFailures int
	Logger      *log.Logger
}

// Poller is a pull-based stand-in for the websocket source: it polls the
// review API on a jittered interval and delivers each poll result as a
// full-replacement snapshot. Per-user rank documents have no pull endpoint,
// so SubscribeDocument supports the task collection only.
type Poller struct {
	backend     Backend
	interval    time.Duration
	jitterRatio float64
	maxFailures int
	logger      *log.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPoller(backend Backend, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	jitterRatio := clampJitterRatio(opts.JitterRatio)
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Poller{
		backend:     backend,
		interval:    interval,
		jitterRatio: jitterRatio,
		maxFailures: maxFailures,
		logger:      logger.With("component", "poller"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Poller) SubscribeCollection(q channel.CollectionQuery, onNext func([]review.Document), onError func(error)) (channel.Disposable, error) {
	if q.Collection != channel.TaskCollection {
		return nil, fmt.Errorf("polling is not available for collection %q", q.Collection)
	}
	return p.run(func(ctx context.Context) error {
		docs, err := p.backend.ListReviews(ctx)
		if err != nil {
			return err
		}
		docs = matchDocs(docs, q.OwnerID, q.Filters)
		sortByCreatedAtDesc(docs)
		if ctx.Err() != nil {
			return nil
		}
		onNext(docs)
		return nil
	}, onError), nil
}

func (p *Poller) SubscribeDocument(q channel.DocumentQuery, onNext func(*review.Document), onError func(error)) (channel.Disposable, error) {
	if q.Collection != channel.TaskCollection {
		return nil, fmt.Errorf("polling is not available for collection %q", q.Collection)
	}
	taskID := q.DocID
	return p.run(func(ctx context.Context) error {
		doc, err := p.backend.GetReview(ctx, taskID)
		if errors.Is(err, review.ErrNotFound) {
			doc, err = nil, nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		onNext(doc)
		return nil
	}, onError), nil
}

func (p *Poller) run(poll func(context.Context) error, onError func(error)) channel.Disposable {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		failures := 0
		for {
			err := poll(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				failures++
				p.logger.Warn("poll failed", "failures", failures, "err", err)
				if failures >= p.maxFailures {
					onError(fmt.Errorf("polling gave up after %d consecutive failures: %w", failures, err))
					return
				}
			} else {
				failures = 0
			}

			timer := time.NewTimer(p.jitteredInterval())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()

	var once sync.Once
	return channel.DisposeFunc(func() {
		once.Do(cancel)
	})
}

// jitteredInterval spreads poll times across [interval*(1-r), interval*(1+r)]
// so independent subscriptions do not hit the backend in lockstep.
func (p *Poller) jitteredInterval() time.Duration {
	if p.jitterRatio == 0 {
		return p.interval
	}
	p.mu.Lock()
	sample := p.rng.Float64()
	p.mu.Unlock()
	factor := 1 + p.jitterRatio*(2*sample-1)
	return time.Duration(float64(p.interval) * factor)
}

func clampJitterRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 0.5 {
		return 0.5
	}
	return r
}

// matchDocs applies the subscription scope to the pulled feed. The websocket
// source gets this narrowing from the backend; the poller reproduces it on
// the raw documents.
func matchDocs(docs []review.Document, ownerID string, f review.TaskFilters) []review.Document {
	out := make([]review.Document, 0, len(docs))
	for _, doc := range docs {
		if !matchDoc(doc, ownerID, f) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func matchDoc(doc review.Document, ownerID string, f review.TaskFilters) bool {
	if doc.Data == nil {
		return false
	}
	if ownerID != "" {
		if owner, _ := doc.Data["user_id"].(string); owner != ownerID {
			return false
		}
	}
	if f.Status != "" {
		if status, _ := doc.Data["status"].(string); status != string(f.Status) {
			return false
		}
	}
	if f.Tag != "" && !docHasTag(doc, f.Tag) {
		return false
	}
	if !f.StartDate.IsZero() || !f.EndDate.IsZero() {
		created, ok := docCreatedAt(doc)
		if !ok {
			return false
		}
		if !f.StartDate.IsZero() && created.Before(f.StartDate) {
			return false
		}
		if !f.EndDate.IsZero() && created.After(f.EndDate) {
			return false
		}
	}
	return true
}

func docHasTag(doc review.Document, tag string) bool {
	raw, ok := doc.Data["tags"].([]any)
	if !ok {
		return false
	}
	for _, item := range raw {
		if s, ok := item.(string); ok && s == tag {
			return true
		}
	}
	return false
}

func docCreatedAt(doc review.Document) (time.Time, bool) {
	switch v := doc.Data["created_at"].(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
	case float64:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

func sortByCreatedAtDesc(docs []review.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, iok := docCreatedAt(docs[i])
		tj, jok := docCreatedAt(docs[j])
		if iok != jok {
			return iok
		}
		return ti.After(tj)
	})
}
