package channel

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// SingleTaskSnapshot is the view of one task document. A nil Task with a nil
// Err means the document does not exist; absence is not an error.
type SingleTaskSnapshot struct {
	Task    *review.Task
	Loading bool
	Err     error
}

// SingleTaskChannel mirrors a single task document by id, with the same
// normalization and teardown semantics as TaskChannel.
type SingleTaskChannel struct {
	store  *Store[SingleTaskSnapshot]
	source PushSource
	logger *log.Logger

	mu     sync.Mutex
	epoch  uint64
	sub    Disposable
	taskID string
	set    bool
}

func NewSingleTaskChannel(source PushSource, logger *log.Logger) *SingleTaskChannel {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &SingleTaskChannel{
		store:  NewStore(SingleTaskSnapshot{}),
		source: source,
		logger: logger.With("channel", "task"),
	}
}

func (c *SingleTaskChannel) Snapshot() SingleTaskSnapshot { return c.store.Snapshot() }

func (c *SingleTaskChannel) Subscribe(listener func()) (unsubscribe func()) {
	return c.store.Subscribe(listener)
}

// SetTaskID rescopes the channel to one task id. An empty id publishes an
// absent idle snapshot and holds no backend subscription. Repeating the
// current id is a no-op unless the subscription has failed, in which case it
// re-subscribes.
func (c *SingleTaskChannel) SetTaskID(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set && taskID == c.taskID && c.store.Snapshot().Err == nil {
		return
	}
	c.set = true
	c.taskID = taskID
	c.teardownLocked()

	if taskID == "" {
		c.store.Publish(SingleTaskSnapshot{})
		return
	}

	c.store.Publish(SingleTaskSnapshot{Loading: true})
	epoch := c.epoch
	sub, err := c.source.SubscribeDocument(
		DocumentQuery{Collection: TaskCollection, DocID: taskID},
		func(doc *review.Document) { c.deliver(epoch, doc) },
		func(err error) { c.fail(epoch, err) },
	)
	if err != nil {
		c.store.Publish(SingleTaskSnapshot{Err: err})
		return
	}
	c.sub = sub
}

func (c *SingleTaskChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *SingleTaskChannel) teardownLocked() {
	c.epoch++
	if c.sub != nil {
		c.sub.Dispose()
		c.sub = nil
	}
}

func (c *SingleTaskChannel) deliver(epoch uint64, doc *review.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		c.logger.Warn("discarding delivery from dead subscription")
		return
	}
	if doc == nil {
		c.store.Publish(SingleTaskSnapshot{})
		return
	}
	task, err := review.MapTask(*doc)
	if err != nil {
		c.logger.Warn("unmappable task document treated as absent", "doc", doc.ID, "err", err)
		c.store.Publish(SingleTaskSnapshot{})
		return
	}
	c.store.Publish(SingleTaskSnapshot{Task: &task})
}

func (c *SingleTaskChannel) fail(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.logger.Error("task subscription failed", "task", c.taskID, "err", err)
	c.store.Publish(SingleTaskSnapshot{Err: err})
}
