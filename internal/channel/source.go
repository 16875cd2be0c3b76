package channel

import "github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"

// Collection names understood by the backend push source.
const (
	TaskCollection = "review_tasks"
	UserCollection = "users"
)

// Disposable tears down one backend subscription. Dispose must not block on
// in-flight deliveries; late results are fenced off by the owning channel.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a plain function to Disposable.
type DisposeFunc func()

func (f DisposeFunc) Dispose() { f() }

// CollectionQuery scopes a collection subscription to one owner identity and
// an optional filter set, ordered by creation time descending.
type CollectionQuery struct {
	Collection string
	OwnerID    string
	Filters    review.TaskFilters
}

// DocumentQuery scopes a subscription to a single document.
type DocumentQuery struct {
	Collection string
	DocID      string
}

// PushSource opens live subscriptions against the backend. Each onNext call
// carries a complete replacement of the subscribed state, in backend-push
// arrival order. onError is terminal for the subscription instance: no
// further deliveries follow and no implicit retry happens.
//
// For document subscriptions a nil document means "absent", which is not an
// error.
type PushSource interface {
	SubscribeCollection(q CollectionQuery, onNext func(docs []review.Document), onError func(err error)) (Disposable, error)
	SubscribeDocument(q DocumentQuery, onNext func(doc *review.Document), onError func(err error)) (Disposable, error)
}
