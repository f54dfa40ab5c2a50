package client

import (
	"context"
	"sync"

	"github.com/liut/inkwell/pkg/models/convo"
)

type messageSource interface {
	GetMessages(ctx context.Context, cid string) (convo.Messages, error)
}

type historyEntry struct {
	msgs   convo.Messages
	loaded bool
	gen    uint64
}

// HistoryCache keeps the durable messages of each conversation, fetched
// lazily on first access and refetched after Invalidate.
//
// Every stored fetch and every invalidation takes a new generation from one
// counter, so a caller can tell whether data was loaded after a given
// invalidation. A fetch that races an invalidation is returned to its
// caller but not stored.
type HistoryCache struct {
	src messageSource

	mu      sync.Mutex
	seq     uint64
	entries map[string]*historyEntry
}

func NewHistoryCache(src messageSource) *HistoryCache {
	return &HistoryCache{src: src, entries: make(map[string]*historyEntry)}
}

// Get returns the durable messages of a conversation, an empty id yields none.
func (h *HistoryCache) Get(ctx context.Context, cid string) (convo.Messages, error) {
	msgs, _, err := h.load(ctx, cid)
	return msgs, err
}

func (h *HistoryCache) load(ctx context.Context, cid string) (convo.Messages, uint64, error) {
	if len(cid) == 0 {
		return nil, 0, nil
	}
	h.mu.Lock()
	e := h.entry(cid)
	if e.loaded {
		msgs, gen := e.msgs.Clone(), e.gen
		h.mu.Unlock()
		return msgs, gen, nil
	}
	start := e.gen
	h.mu.Unlock()

	msgs, err := h.src.GetMessages(ctx, cid)
	if err != nil {
		return nil, 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e.gen != start {
		logger().Debugw("history invalidated during fetch", "cid", cid)
		return msgs.Clone(), start, nil
	}
	h.seq++
	e.msgs, e.loaded, e.gen = msgs, true, h.seq
	return msgs.Clone(), e.gen, nil
}

// Peek returns what is cached without fetching.
func (h *HistoryCache) Peek(cid string) (convo.Messages, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[cid]; ok && e.loaded {
		return e.msgs.Clone(), true
	}
	return nil, false
}

// Invalidate marks the conversation stale and returns the generation of the
// invalidation; any later stored fetch has a greater one.
func (h *HistoryCache) Invalidate(cid string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	e := h.entry(cid)
	e.msgs, e.loaded, e.gen = nil, false, h.seq
	return h.seq
}

func (h *HistoryCache) entry(cid string) *historyEntry {
	e, ok := h.entries[cid]
	if !ok {
		e = new(historyEntry)
		h.entries[cid] = e
	}
	return e
}
