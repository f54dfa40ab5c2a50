package client

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/stream"
)

// View is what the active conversation should display.
type View struct {
	ConversationID string
	Messages       convo.Messages // durable then provisional
	Partial        string         // assistant reply received so far
	Status         Status
	Err            error
}

// Transcript concatenates durable history with the provisional overlay.
func Transcript(durable, overlay convo.Messages) convo.Messages {
	out := make(convo.Messages, 0, len(durable)+len(overlay))
	out = append(out, durable...)
	return append(out, overlay...)
}

// Controller owns the active conversation, the sessions of every
// conversation with a send under way, and the caches they are merged with.
type Controller struct {
	api  API
	reg  *Registry
	hist *HistoryCache

	mu        sync.Mutex
	active    string
	creating  bool
	sessions  map[string]*Session
	observers []func(Snapshot)
}

func NewController(api API) *Controller {
	return &Controller{
		api:      api,
		reg:      NewRegistry(api),
		hist:     NewHistoryCache(api),
		sessions: make(map[string]*Session),
	}
}

func (c *Controller) Registry() *Registry    { return c.reg }
func (c *Controller) History() *HistoryCache { return c.hist }

// Active returns the id of the selected conversation, empty if none.
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Session returns the current session of a conversation, nil if none.
func (c *Controller) Session(cid string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[cid]
}

// Observe registers fn to be called after every session change.
func (c *Controller) Observe(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Controller) notify(s *Session) {
	c.mu.Lock()
	fns := slices.Clone(c.observers)
	c.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// SelectDefault keeps the active conversation, or selects the first one
// listed. Nothing is created when the list is empty.
func (c *Controller) SelectDefault(ctx context.Context) (string, error) {
	if cid := c.Active(); len(cid) > 0 {
		return cid, nil
	}
	items, err := c.reg.List(ctx)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) == 0 {
		c.selectLocked(items[0].ID)
	}
	return c.active, nil
}

// Select switches the active conversation. Streams of other conversations
// keep running; a finished session of the one being left is discarded.
func (c *Controller) Select(cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectLocked(cid)
}

func (c *Controller) selectLocked(cid string) {
	if c.active == cid {
		return
	}
	prev := c.active
	if s, ok := c.sessions[prev]; ok && s.Status().Terminal() {
		delete(c.sessions, prev)
	}
	c.active = cid
	logger().Debugw("selected", "cid", cid, "prev", prev)
}

// Create makes a conversation and selects it.
func (c *Controller) Create(ctx context.Context, title string) (*convo.Conversation, error) {
	cs, err := c.reg.Create(ctx, title)
	if err != nil {
		return nil, err
	}
	c.Select(cs.ID)
	return cs, nil
}

// Send submits text on the active conversation, creating one first when none
// is selected. The provisional user message is part of the view, on top of
// the durable history, when Send returns; the reply streams into the returned
// session in the background until ctx is canceled.
func (c *Controller) Send(ctx context.Context, text string) (*Session, error) {
	if len(strings.TrimSpace(text)) == 0 {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	cid := c.active
	if len(cid) == 0 {
		if c.creating {
			c.mu.Unlock()
			return nil, ErrBusy
		}
		c.creating = true
		c.mu.Unlock()

		cs, err := c.reg.Create(ctx, convo.DefaultTitle)
		c.mu.Lock()
		c.creating = false
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		cid = cs.ID
		// keep a selection made while the conversation was being created
		if len(c.active) == 0 {
			c.selectLocked(cid)
		}
	}

	prev := c.sessions[cid]
	if prev != nil && !prev.Status().Terminal() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	s := newSession(cid)
	c.sessions[cid] = s
	c.mu.Unlock()

	base, err := c.baseFor(ctx, cid, prev)
	if err != nil {
		c.restore(s, prev)
		return nil, err
	}
	s.setBase(base)

	msg, err := s.begin(text)
	if err != nil {
		c.restore(s, prev)
		return nil, err
	}
	logger().Infow("sending", "cid", cid, "local", msg.ID)
	c.notify(s)

	go c.run(ctx, s, text)
	return s, nil
}

// baseFor returns the durable messages a new send is shown on top of. After
// a failed send that is what the failed session displayed, and the history
// is marked stale so the server's copy replaces it once the new send is done.
func (c *Controller) baseFor(ctx context.Context, cid string, prev *Session) (convo.Messages, error) {
	if prev != nil && prev.Status() == StatusFailed {
		base, ok := prev.overlayBase()
		if !ok {
			base, _ = c.hist.Peek(cid)
		}
		base = Transcript(base, prev.Snapshot().Local)
		c.hist.Invalidate(cid)
		return base, nil
	}
	return c.hist.Get(ctx, cid)
}

// restore puts back the session a failed Send replaced.
func (c *Controller) restore(s, prev *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.ConversationID()] != s {
		return
	}
	if prev != nil {
		c.sessions[s.ConversationID()] = prev
	} else {
		delete(c.sessions, s.ConversationID())
	}
}

func (c *Controller) run(ctx context.Context, s *Session, text string) {
	cid := s.ConversationID()

	for ev, err := range c.api.OpenStream(ctx, cid, text) {
		if err != nil {
			logger().Infow("stream failed", "cid", cid, "err", err)
			s.fail(err)
			c.notify(s)
			return
		}
		if ev.Kind == stream.KindDone {
			s.setDoneGen(c.hist.Invalidate(cid))
		}
		if err := s.apply(ev); err != nil {
			logger().Infow("apply event", "cid", cid, "kind", ev.Kind, "err", err)
		}
		c.notify(s)
	}

	if s.Status() != StatusDone {
		s.fail(&TransportError{Op: "read stream", Err: io.ErrUnexpectedEOF})
		c.notify(s)
		return
	}
	if _, _, err := c.settle(ctx, s); err != nil {
		logger().Infow("refetch after done failed", "cid", cid, "err", err)
	}
}

// settle refetches the durable history after a session is done and drops
// the session once the history covers it.
func (c *Controller) settle(ctx context.Context, s *Session) (convo.Messages, bool, error) {
	durable, gen, err := c.hist.load(ctx, s.ConversationID())
	if err != nil {
		return nil, false, err
	}
	if gen <= s.getDoneGen() {
		return nil, false, nil
	}
	c.drop(s)
	return durable, true, nil
}

func (c *Controller) drop(s *Session) {
	c.mu.Lock()
	if c.sessions[s.ConversationID()] == s {
		delete(c.sessions, s.ConversationID())
	}
	c.mu.Unlock()
}

// View returns the display state of the active conversation.
func (c *Controller) View(ctx context.Context) (View, error) {
	c.mu.Lock()
	cid := c.active
	s := c.sessions[cid]
	c.mu.Unlock()

	v := View{ConversationID: cid, Status: StatusIdle}
	if len(cid) == 0 {
		return v, nil
	}

	if s == nil {
		durable, err := c.hist.Get(ctx, cid)
		if err != nil {
			return v, err
		}
		v.Messages = durable
		return v, nil
	}

	if s.Status() == StatusDone {
		durable, settled, err := c.settle(ctx, s)
		if settled {
			v.Messages = durable
			return v, nil
		}
		if err != nil {
			logger().Debugw("refetch after done failed", "cid", cid, "err", err)
		}
	}

	snap := s.Snapshot()
	base, ok := s.overlayBase()
	if !ok {
		var err error
		if base, err = c.hist.Get(ctx, cid); err != nil {
			return v, err
		}
	}
	v.Messages = Transcript(base, snap.Local)
	v.Partial = snap.Partial
	v.Status = snap.Status
	v.Err = snap.Err
	return v, nil
}
