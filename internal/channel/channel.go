// Package channel defines the adapter boundary between external messaging
// channels and the router. Each adapter translates one channel's native
// webhook payload into a canonical inbound message and delivers outbound
// text through that channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/omnidesk/support-router/internal/model"
)

// ErrUnknownChannel means no adapter is registered for the channel name.
var ErrUnknownChannel = errors.New("unknown channel")

// Inbound is the canonical form of a normalized inbound event.
type Inbound struct {
	ChannelMessageID string
	CustomerID       string
	SenderDisplay    string
	Content          string
	Attachments      []model.Attachment
}

// Adapter bridges one external channel.
//
// Normalize returns model.ErrNotAMessage for payloads that are channel
// bookkeeping (status callbacks, receipts) rather than customer messages,
// and model.ErrValidation for malformed payloads.
type Adapter interface {
	Name() string
	Normalize(payload []byte) (*Inbound, error)
	Deliver(ctx context.Context, conv *model.Conversation, content string) (string, error)
}

// Transport performs the actual outbound API call for an adapter. Kept as an
// injection point so the real channel credentials and HTTP calls stay outside
// the routing core.
type Transport func(ctx context.Context, conv *model.Conversation, content string) (string, error)

// DevTransport fabricates a native message id without calling out. Used in
// development and tests.
func DevTransport(ctx context.Context, conv *model.Conversation, content string) (string, error) {
	return "dev-" + uuid.NewString(), nil
}

// Registry holds the registered channel adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its channel name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a channel name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return a, nil
}

// Names returns the registered channel names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
