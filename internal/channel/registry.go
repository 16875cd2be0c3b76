package channel

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// Registry shares backend subscriptions between consumers. The first
// acquirer for a given (collection, id, filter-signature) key opens the
// backend subscription; later acquirers attach to the existing channel. The
// subscription closes only when the last acquirer releases. Without this,
// every dashboard widget for the same identity would hold its own backend
// connection.
type Registry struct {
	source PushSource
	logger *log.Logger

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	singles map[string]*singleEntry
	ranks   map[string]*rankEntry
}

type taskEntry struct {
	channel *TaskChannel
	refs    int
}

type singleEntry struct {
	channel *SingleTaskChannel
	refs    int
}

type rankEntry struct {
	channel *RankChannel
	refs    int
}

func NewRegistry(source PushSource, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Registry{
		source:  source,
		logger:  logger,
		tasks:   map[string]*taskEntry{},
		singles: map[string]*singleEntry{},
		ranks:   map[string]*rankEntry{},
	}
}

// AcquireTasks returns the shared task channel for the owner and filter set.
// The release function detaches this acquirer and is safe to call more than
// once.
func (r *Registry) AcquireTasks(ownerID string, filters review.TaskFilters) (*TaskChannel, func()) {
	key := ownerID + "#" + filters.Signature()

	r.mu.Lock()
	entry := r.tasks[key]
	created := entry == nil
	if created {
		entry = &taskEntry{channel: NewTaskChannel(r.source, r.logger)}
		r.tasks[key] = entry
	}
	// the creator's reference is counted before the lock drops, so a
	// concurrent acquire+release of the same key cannot tear the entry
	// down while the subscription is still opening
	entry.refs++
	r.mu.Unlock()

	if created {
		// open outside the registry lock; SetQuery publishes synchronously
		entry.channel.SetQuery(ownerID, filters)
	}

	var once sync.Once
	return entry.channel, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entry.refs--
			if entry.refs <= 0 {
				entry.channel.Close()
				delete(r.tasks, key)
			}
		})
	}
}

// AcquireTask returns the shared single-task channel for one task id.
func (r *Registry) AcquireTask(taskID string) (*SingleTaskChannel, func()) {
	r.mu.Lock()
	entry := r.singles[taskID]
	created := entry == nil
	if created {
		entry = &singleEntry{channel: NewSingleTaskChannel(r.source, r.logger)}
		r.singles[taskID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	if created {
		entry.channel.SetTaskID(taskID)
	}

	var once sync.Once
	return entry.channel, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entry.refs--
			if entry.refs <= 0 {
				entry.channel.Close()
				delete(r.singles, taskID)
			}
		})
	}
}

// AcquireRank returns the shared rank channel for one user id.
func (r *Registry) AcquireRank(userID string) (*RankChannel, func()) {
	r.mu.Lock()
	entry := r.ranks[userID]
	created := entry == nil
	if created {
		entry = &rankEntry{channel: NewRankChannel(r.source, r.logger)}
		r.ranks[userID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	if created {
		entry.channel.SetUserID(userID)
	}

	var once sync.Once
	return entry.channel, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entry.refs--
			if entry.refs <= 0 {
				entry.channel.Close()
				delete(r.ranks, userID)
			}
		})
	}
}

// Close tears down every remaining shared channel regardless of refcounts.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.tasks {
		entry.channel.Close()
		delete(r.tasks, key)
	}
	for key, entry := range r.singles {
		entry.channel.Close()
		delete(r.singles, key)
	}
	for key, entry := range r.ranks {
		entry.channel.Close()
		delete(r.ranks, key)
	}
}
