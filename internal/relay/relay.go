// internal/relay/relay.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// MessageType names what a message asks the relay to do.
type MessageType string

const (
	// TypeSaveArticle stores the article content. Payload is the HTML string.
	TypeSaveArticle MessageType = "SAVE_ARTICLE"
	// TypeGetArticle returns the last saved article.
	TypeGetArticle MessageType = "GET_ARTICLE"
	// TypeTrace carries a diag.Record into the ring buffer. It has no reply.
	TypeTrace MessageType = "UAS_TRACE"
)

// ErrShutdown is returned for messages posted after Shutdown.
var ErrShutdown = errors.New("relay: shut down")

// Message is the envelope on the relay's inbox.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      MessageType
	Payload   any
	reply     chan Response
}

// Response answers a request.
type Response struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ArticleStore persists the last article.
type ArticleStore interface {
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) (bool, error)
}

// Relay is the long-lived background collaborator. It owns the last saved
// article and the diagnostic ring, and handles messages one at a time.
type Relay struct {
	logger *zap.Logger
	store  ArticleStore
	ring   *diag.Ring[diag.Record]
	recent int

	inbox chan Message

	mu      sync.Mutex
	last    string
	hasLast bool

	workerWg      sync.WaitGroup
	activePostsWg sync.WaitGroup
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
	isShutdown    bool
	shutdownMu    sync.Mutex
}

// New creates a relay. store may be nil, in which case the last article only
// lives in memory.
func New(logger *zap.Logger, st ArticleStore, cfg config.DiagnosticsConfig, bufferSize int) *Relay {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Relay{
		logger:       logger.Named("relay"),
		store:        st,
		ring:         diag.NewRing[diag.Record](cfg.RingCapacity),
		recent:       cfg.RecentWindow,
		inbox:        make(chan Message, bufferSize),
		shutdownChan: make(chan struct{}),
	}
}

// Start runs the message loop until Shutdown.
func (r *Relay) Start() {
	r.workerWg.Add(1)
	go func() {
		defer r.workerWg.Done()
		for msg := range r.inbox {
			r.handle(msg)
		}
	}()
}

func (r *Relay) enter() error {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	if r.isShutdown {
		return ErrShutdown
	}
	r.activePostsWg.Add(1)
	return nil
}

func (r *Relay) deliver(ctx context.Context, msg Message) error {
	select {
	case r.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.shutdownChan:
		return ErrShutdown
	}
}

// Request sends a message and waits for the reply.
func (r *Relay) Request(ctx context.Context, t MessageType, payload any) (Response, error) {
	if err := r.enter(); err != nil {
		return Response{}, err
	}
	msg := Message{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t, Payload: payload, reply: make(chan Response, 1)}
	r.logger.Debug("Posting request", zap.String("type", string(t)), zap.String("id", msg.ID))
	err := r.deliver(ctx, msg)
	r.activePostsWg.Done()
	if err != nil {
		return Response{}, err
	}

	select {
	case resp := <-msg.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Post sends a message without waiting for it to be handled. When the inbox
// is full the message is dropped.
func (r *Relay) Post(t MessageType, payload any) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer r.activePostsWg.Done()
	msg := Message{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t, Payload: payload}
	select {
	case r.inbox <- msg:
		return nil
	case <-r.shutdownChan:
		return ErrShutdown
	default:
		return fmt.Errorf("relay inbox full, dropped %s", t)
	}
}

// Forward implements diag.Forwarder.
func (r *Relay) Forward(rec diag.Record) {
	// Diagnostics never get in the way of the caller.
	_ = r.Post(TypeTrace, rec)
}

// SaveArticle is a SAVE_ARTICLE request.
func (r *Relay) SaveArticle(ctx context.Context, content string) error {
	resp, err := r.Request(ctx, TypeSaveArticle, content)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}

// GetArticle is a GET_ARTICLE request.
func (r *Relay) GetArticle(ctx context.Context) (string, bool, error) {
	resp, err := r.Request(ctx, TypeGetArticle, nil)
	if err != nil {
		return "", false, err
	}
	if !resp.Success {
		return "", false, nil
	}
	return resp.Content, true, nil
}

// Recent returns the newest records in the ring, oldest first.
func (r *Relay) Recent() []diag.Record {
	return r.ring.ReadLast(r.recent)
}

func (r *Relay) handle(msg Message) {
	switch msg.Type {
	case TypeSaveArticle:
		msg.reply <- r.save(msg)
	case TypeGetArticle:
		msg.reply <- r.get()
	case TypeTrace:
		rec, ok := msg.Payload.(diag.Record)
		if !ok {
			r.logger.Debug("Dropping malformed trace message", zap.String("id", msg.ID))
			return
		}
		r.ring.WriteOne(rec)
	default:
		r.logger.Warn("Unknown message type", zap.String("type", string(msg.Type)))
		if msg.reply != nil {
			msg.reply <- Response{Error: "unknown message type " + string(msg.Type)}
		}
	}
}

func (r *Relay) save(msg Message) Response {
	content, ok := msg.Payload.(string)
	if !ok {
		return Response{Error: "SAVE_ARTICLE expects the article content"}
	}
	r.mu.Lock()
	r.last, r.hasLast = content, true
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.PutJSON(ctx, store.KeyLastArticle, content); err != nil {
			r.logger.Warn("Failed to persist last article", zap.Error(err))
			return Response{Error: err.Error()}
		}
	}
	r.logger.Debug("Article saved", zap.Int("length", len(content)))
	return Response{Success: true}
}

func (r *Relay) get() Response {
	r.mu.Lock()
	content, ok := r.last, r.hasLast
	r.mu.Unlock()
	if ok {
		return Response{Success: true, Content: content}
	}
	if r.store == nil {
		return Response{Error: "no article saved"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var stored string
	found, err := r.store.GetJSON(ctx, store.KeyLastArticle, &stored)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if !found {
		return Response{Error: "no article saved"}
	}
	r.mu.Lock()
	r.last, r.hasLast = stored, true
	r.mu.Unlock()
	return Response{Success: true, Content: stored}
}

// Shutdown stops accepting messages, drains the inbox and waits for the loop.
func (r *Relay) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.shutdownMu.Lock()
		r.isShutdown = true
		r.shutdownMu.Unlock()

		close(r.shutdownChan)
		r.activePostsWg.Wait()
		// No sender is left, so closing is safe; the loop handles what is queued.
		close(r.inbox)
		r.workerWg.Wait()
		r.logger.Debug("Relay shut down", zap.Int64("traces", r.ring.Total()))
	})
}
