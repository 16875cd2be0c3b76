package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/channel"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

type fakeBackend struct {
	mu      sync.Mutex
	docs    []review.Document
	listErr error
	getErr  error
}

func (f *fakeBackend) ListReviews(ctx context.Context) ([]review.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]review.Document(nil), f.docs...), nil
}

func (f *fakeBackend) GetReview(ctx context.Context, taskID string) (*review.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, doc := range f.docs {
		if doc.ID == taskID {
			copied := doc
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, review.ErrNotFound)
}

func quietLogger() *log.Logger {
	logger := log.New(io.Discard)
	logger.SetLevel(log.FatalLevel)
	return logger
}

func pollDoc(id, userID, createdAt string, tags ...string) review.Document {
	rawTags := make([]any, 0, len(tags))
	for _, tag := range tags {
		rawTags = append(rawTags, tag)
	}
	return review.Document{ID: id, Data: map[string]any{
		"user_id":    userID,
		"status":     "completed",
		"image_url":  "https://cdn.example.com/" + id + ".png",
		"created_at": createdAt,
		"tags":       rawTags,
	}}
}

func awaitDelivery[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		panic("unreachable")
	}
}

func TestPollerDeliversScopedSortedSnapshot(t *testing.T) {
	backend := &fakeBackend{docs: []review.Document{
		pollDoc("old", "user-1", "2026-08-01T10:00:00Z"),
		pollDoc("other-user", "user-2", "2026-08-03T10:00:00Z"),
		pollDoc("new", "user-1", "2026-08-02T10:00:00Z"),
	}}
	poller := NewPoller(backend, PollerOptions{Interval: time.Hour, Logger: quietLogger()})

	deliveries := make(chan []review.Document, 1)
	sub, err := poller.SubscribeCollection(
		channel.CollectionQuery{Collection: channel.TaskCollection, OwnerID: "user-1"},
		func(docs []review.Document) {
			select {
			case deliveries <- docs:
			default:
			}
		},
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	if err != nil {
		t.Fatalf("SubscribeCollection: %v", err)
	}
	defer sub.Dispose()

	docs := awaitDelivery(t, deliveries)
	if len(docs) != 2 {
		t.Fatalf("docs = %d, want 2 scoped to user-1", len(docs))
	}
	if docs[0].ID != "new" || docs[1].ID != "old" {
		t.Fatalf("order = [%s %s], want newest first", docs[0].ID, docs[1].ID)
	}
}

func TestPollerAppliesSubscriptionFilters(t *testing.T) {
	backend := &fakeBackend{docs: []review.Document{
		pollDoc("tagged", "user-1", "2026-08-01T10:00:00Z", "portrait"),
		pollDoc("untagged", "user-1", "2026-08-01T11:00:00Z"),
	}}
	poller := NewPoller(backend, PollerOptions{Interval: time.Hour, Logger: quietLogger()})

	deliveries := make(chan []review.Document, 1)
	sub, err := poller.SubscribeCollection(
		channel.CollectionQuery{
			Collection: channel.TaskCollection,
			OwnerID:    "user-1",
			Filters:    review.TaskFilters{Tag: "portrait"},
		},
		func(docs []review.Document) {
			select {
			case deliveries <- docs:
			default:
			}
		},
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	docs := awaitDelivery(t, deliveries)
	if len(docs) != 1 || docs[0].ID != "tagged" {
		t.Fatalf("docs = %+v, want only the tagged one", docs)
	}
}

func TestPollerDocumentAbsence(t *testing.T) {
	backend := &fakeBackend{}
	poller := NewPoller(backend, PollerOptions{Interval: time.Hour, Logger: quietLogger()})

	deliveries := make(chan *review.Document, 1)
	sub, err := poller.SubscribeDocument(
		channel.DocumentQuery{Collection: channel.TaskCollection, DocID: "missing"},
		func(doc *review.Document) {
			select {
			case deliveries <- doc:
			default:
			}
		},
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	if doc := awaitDelivery(t, deliveries); doc != nil {
		t.Fatalf("doc = %+v, want nil for absent task", doc)
	}
}

func TestPollerGivesUpAfterConsecutiveFailures(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("backend down")}
	poller := NewPoller(backend, PollerOptions{
		Interval:    time.Millisecond,
		MaxFailures: 2,
		Logger:      quietLogger(),
	})

	failures := make(chan error, 1)
	sub, err := poller.SubscribeCollection(
		channel.CollectionQuery{Collection: channel.TaskCollection, OwnerID: "user-1"},
		func([]review.Document) { t.Error("unexpected delivery") },
		func(err error) {
			select {
			case failures <- err:
			default:
			}
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	if err := awaitDelivery(t, failures); err == nil {
		t.Fatal("terminal error is nil")
	}
}

func TestPollerRejectsUnsupportedCollections(t *testing.T) {
	poller := NewPoller(&fakeBackend{}, PollerOptions{Logger: quietLogger()})

	_, err := poller.SubscribeDocument(
		channel.DocumentQuery{Collection: channel.UserCollection, DocID: "user-1"},
		func(*review.Document) {},
		func(error) {},
	)
	if err == nil {
		t.Fatal("user collection has no pull endpoint, Subscribe must fail")
	}
}
