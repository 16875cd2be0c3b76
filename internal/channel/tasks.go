package channel

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// TaskSnapshot is the full-replacement view of one task subscription.
type TaskSnapshot struct {
	Tasks   []review.Task
	Loading bool
	Err     error
}

// TaskChannel mirrors the backend task collection for one owner identity.
// Every backend push replaces the whole task list; the channel never applies
// diffs. A subscription error is terminal for that subscription instance:
// the consumer recovers by changing the query or remounting.
type TaskChannel struct {
	store  *Store[TaskSnapshot]
	source PushSource
	logger *log.Logger

	mu       sync.Mutex
	epoch    uint64
	sub      Disposable
	querySig string
	queried  bool
}

func NewTaskChannel(source PushSource, logger *log.Logger) *TaskChannel {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &TaskChannel{
		store:  NewStore(TaskSnapshot{}),
		source: source,
		logger: logger.With("channel", "tasks"),
	}
}

// Snapshot returns the latest published snapshot synchronously.
func (c *TaskChannel) Snapshot() TaskSnapshot { return c.store.Snapshot() }

// Subscribe registers a listener notified after every publish. Listeners may
// read the snapshot but must not call SetQuery or Close reentrantly.
func (c *TaskChannel) Subscribe(listener func()) (unsubscribe func()) {
	return c.store.Subscribe(listener)
}

// SetQuery points the channel at one owner identity and filter set. The
// previous backend subscription is torn down synchronously before the new
// one opens, so no stale delivery from the old subscription can reach the
// new snapshot. An empty ownerID publishes an empty idle snapshot and holds
// no backend subscription. Repeating the current query is a no-op unless the
// subscription has failed, in which case it re-subscribes.
func (c *TaskChannel) SetQuery(ownerID string, filters review.TaskFilters) {
	sig := ownerID + "#" + filters.Signature()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queried && sig == c.querySig && c.store.Snapshot().Err == nil {
		return
	}
	c.queried = true
	c.querySig = sig
	c.teardownLocked()

	if ownerID == "" {
		c.store.Publish(TaskSnapshot{})
		return
	}

	c.store.Publish(TaskSnapshot{Loading: true})
	epoch := c.epoch
	sub, err := c.source.SubscribeCollection(
		CollectionQuery{Collection: TaskCollection, OwnerID: ownerID, Filters: filters},
		func(docs []review.Document) { c.deliver(epoch, docs) },
		func(err error) { c.fail(epoch, err) },
	)
	if err != nil {
		c.store.Publish(TaskSnapshot{Err: err})
		return
	}
	c.sub = sub
}

// Close tears down the backend subscription. The last snapshot stays
// readable; nothing further is published.
func (c *TaskChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *TaskChannel) teardownLocked() {
	c.epoch++
	if c.sub != nil {
		c.sub.Dispose()
		c.sub = nil
	}
}

func (c *TaskChannel) deliver(epoch uint64, docs []review.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		c.logger.Warn("discarding delivery from dead subscription")
		return
	}
	tasks := make([]review.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := review.MapTask(doc)
		if err != nil {
			c.logger.Warn("skipping unmappable task document", "doc", doc.ID, "err", err)
			continue
		}
		tasks = append(tasks, task)
	}
	c.store.Publish(TaskSnapshot{Tasks: tasks})
}

func (c *TaskChannel) fail(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.logger.Error("task subscription failed", "err", err)
	c.store.Publish(TaskSnapshot{Err: err})
}
