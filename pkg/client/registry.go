package client

import (
	"context"
	"strings"
	"sync"

	"github.com/liut/inkwell/pkg/models/convo"
)

type conversationSource interface {
	ListConversations(ctx context.Context) (convo.Conversations, error)
	CreateConversation(ctx context.Context, title string) (*convo.Conversation, error)
}

// Registry is a read-through cache of the user's conversations.
type Registry struct {
	src conversationSource

	mu    sync.Mutex
	items convo.Conversations
	valid bool
	gen   uint64
}

func NewRegistry(src conversationSource) *Registry {
	return &Registry{src: src}
}

// List returns the cached conversations, fetching them first when stale.
func (r *Registry) List(ctx context.Context) (convo.Conversations, error) {
	r.mu.Lock()
	if r.valid {
		items := append(convo.Conversations(nil), r.items...)
		r.mu.Unlock()
		return items, nil
	}
	gen := r.gen
	r.mu.Unlock()

	items, err := r.src.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.items, r.valid = items, true
	}
	r.mu.Unlock()
	return append(convo.Conversations(nil), items...), nil
}

// Create makes a conversation in one round trip and marks the list stale.
func (r *Registry) Create(ctx context.Context, title string) (*convo.Conversation, error) {
	if title = strings.TrimSpace(title); len(title) == 0 {
		title = convo.DefaultTitle
	}
	cs, err := r.src.CreateConversation(ctx, title)
	if err != nil {
		return nil, err
	}
	r.Invalidate()
	logger().Debugw("created conversation", "id", cs.ID, "title", cs.Title)
	return cs, nil
}

func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.valid = false
	r.items = nil
	r.gen++
	r.mu.Unlock()
}
