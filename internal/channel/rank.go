package channel

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// RankSnapshot is the view of the per-user progression aggregate. An absent
// backend record yields the same defaults as a fresh user, never an error.
type RankSnapshot struct {
	Rank    *review.Rank
	Loading bool
	Err     error
}

// RankChannel mirrors one per-user aggregate document and derives the rank
// label from the numeric level on every push. Read-only and independent of
// the task channels.
type RankChannel struct {
	store  *Store[RankSnapshot]
	source PushSource
	logger *log.Logger

	mu     sync.Mutex
	epoch  uint64
	sub    Disposable
	userID string
	set    bool
}

func NewRankChannel(source PushSource, logger *log.Logger) *RankChannel {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &RankChannel{
		store:  NewStore(RankSnapshot{}),
		source: source,
		logger: logger.With("channel", "rank"),
	}
}

func (c *RankChannel) Snapshot() RankSnapshot { return c.store.Snapshot() }

func (c *RankChannel) Subscribe(listener func()) (unsubscribe func()) {
	return c.store.Subscribe(listener)
}

// SetUserID rescopes the channel to one user's aggregate record. Repeating
// the current id is a no-op unless the subscription has failed, in which
// case it re-subscribes.
func (c *RankChannel) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set && userID == c.userID && c.store.Snapshot().Err == nil {
		return
	}
	c.set = true
	c.userID = userID
	c.teardownLocked()

	if userID == "" {
		c.store.Publish(RankSnapshot{})
		return
	}

	c.store.Publish(RankSnapshot{Loading: true})
	epoch := c.epoch
	sub, err := c.source.SubscribeDocument(
		DocumentQuery{Collection: UserCollection, DocID: userID},
		func(doc *review.Document) { c.deliver(epoch, doc) },
		func(err error) { c.fail(epoch, err) },
	)
	if err != nil {
		c.store.Publish(RankSnapshot{Err: err})
		return
	}
	c.sub = sub
}

func (c *RankChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *RankChannel) teardownLocked() {
	c.epoch++
	if c.sub != nil {
		c.sub.Dispose()
		c.sub = nil
	}
}

func (c *RankChannel) deliver(epoch uint64, doc *review.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		c.logger.Warn("discarding delivery from dead subscription")
		return
	}
	var data map[string]any
	if doc != nil {
		data = doc.Data
	}
	rank := review.MapRank(data)
	c.store.Publish(RankSnapshot{Rank: &rank})
}

func (c *RankChannel) fail(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.logger.Error("rank subscription failed", "user", c.userID, "err", err)
	c.store.Publish(RankSnapshot{Err: err})
}
