// Package push implements the backend push channel: a websocket source
// delivering full-replacement document snapshots, and a pull-based poller
// used when no push endpoint is configured. Both satisfy channel.PushSource.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/api"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/channel"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

type SourceOptions struct {
	// Endpoint is the ws:// or wss:// push URL.
	Endpoint      string
	TokenProvider api.TokenProvider
	HTTPClient    *http.Client
	Logger        *log.Logger
	DialTimeout   time.Duration
}

// Source opens one websocket per subscription. Disposing a subscription
// cancels its read context and closes the socket; frames that were already
// in flight are dropped, never delivered.
type Source struct {
	endpoint      string
	tokenProvider api.TokenProvider
	httpClient    *http.Client
	logger        *log.Logger
	dialTimeout   time.Duration
}

func NewSource(opts SourceOptions) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Source{
		endpoint:      strings.TrimSpace(opts.Endpoint),
		tokenProvider: opts.TokenProvider,
		httpClient:    opts.HTTPClient,
		logger:        logger.With("component", "push"),
		dialTimeout:   dialTimeout,
	}
}

type subscribeFrame struct {
	Action     string            `json:"action"`
	Collection string            `json:"collection"`
	OwnerID    string            `json:"owner_id,omitempty"`
	DocID      string            `json:"doc_id,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	OrderBy    string            `json:"order_by,omitempty"`
}

type pushDocument struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type pushFrame struct {
	Type      string         `json:"type"`
	Documents []pushDocument `json:"documents,omitempty"`
	Document  *pushDocument  `json:"document,omitempty"`
	Exists    bool           `json:"exists,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func (s *Source) SubscribeCollection(q channel.CollectionQuery, onNext func([]review.Document), onError func(error)) (channel.Disposable, error) {
	frame := subscribeFrame{
		Action:     "subscribe",
		Collection: q.Collection,
		OwnerID:    q.OwnerID,
		Filters:    filterPayload(q.Filters),
		OrderBy:    "created_at desc",
	}
	return s.open(frame, func(f pushFrame) {
		docs := make([]review.Document, 0, len(f.Documents))
		for _, d := range f.Documents {
			docs = append(docs, review.Document{ID: d.ID, Data: d.Data})
		}
		onNext(docs)
	}, onError)
}

func (s *Source) SubscribeDocument(q channel.DocumentQuery, onNext func(*review.Document), onError func(error)) (channel.Disposable, error) {
	frame := subscribeFrame{
		Action:     "subscribe",
		Collection: q.Collection,
		DocID:      q.DocID,
	}
	return s.open(frame, func(f pushFrame) {
		if f.Document == nil || !f.Exists {
			onNext(nil)
			return
		}
		onNext(&review.Document{ID: f.Document.ID, Data: f.Document.Data})
	}, onError)
}

func (s *Source) open(sub subscribeFrame, deliver func(pushFrame), onError func(error)) (channel.Disposable, error) {
	if s.endpoint == "" {
		return nil, fmt.Errorf("push endpoint is not configured")
	}
	if s.tokenProvider == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer dialCancel()

	token, err := s.tokenProvider(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("obtain bearer token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(dialCtx, s.endpoint, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: s.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	if err := wsjson.Write(dialCtx, conn, sub); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("send subscribe frame: %w", err)
	}

	go s.readLoop(ctx, conn, sub.Collection, deliver, onError)

	var once sync.Once
	return channel.DisposeFunc(func() {
		once.Do(func() {
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		})
	}), nil
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, collection string, deliver func(pushFrame), onError func(error)) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var frame pushFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				// disposed; whatever was in flight is dropped
				return
			}
			onError(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		switch frame.Type {
		case "snapshot":
			deliver(frame)
		case "error":
			message := frame.Message
			if message == "" {
				message = "push subscription failed"
			}
			onError(errors.New(message))
			return
		default:
			s.logger.Debug("ignoring push frame", "collection", collection, "type", frame.Type)
		}
	}
}

func filterPayload(f review.TaskFilters) map[string]string {
	out := map[string]string{}
	if f.Status != "" {
		out["status"] = string(f.Status)
	}
	if f.Tag != "" {
		out["tag"] = f.Tag
	}
	if !f.StartDate.IsZero() {
		out["start_date"] = f.StartDate.UTC().Format(time.RFC3339)
	}
	if !f.EndDate.IsZero() {
		out["end_date"] = f.EndDate.UTC().Format(time.RFC3339)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
