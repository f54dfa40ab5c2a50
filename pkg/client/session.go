package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/stream"
)

// Status of a streaming session
type Status string

// statuses
const (
	StatusIdle      Status = "idle"
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// InFlight reports whether a send is still waiting on the stream.
func (s Status) InFlight() bool {
	return s == StatusSending || s == StatusStreaming
}

// Terminal reports whether the session ended, done or failed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

type trigger string

const (
	triggerSend    trigger = "send"
	triggerReceive trigger = "receive"
	triggerFinish  trigger = "finish"
	triggerFail    trigger = "fail"
)

// LocalPrefix marks provisional message ids that no store ever issues.
const LocalPrefix = "local-"

// Snapshot is a copy of a session's visible state.
type Snapshot struct {
	ConversationID string
	Local          convo.Messages
	Partial        string
	Status         Status
	Err            error
}

// Session tracks one send on one conversation: the optimistic user message,
// the reply text received so far and where the exchange stands.
type Session struct {
	cid string
	fsm *stateless.StateMachine

	mu      sync.Mutex
	local   convo.Messages
	partial strings.Builder
	err     error
	base    convo.Messages
	hasBase bool
	doneGen uint64

	done chan struct{}
}

func newSession(cid string) *Session {
	s := &Session{cid: cid, done: make(chan struct{})}
	fsm := stateless.NewStateMachine(StatusIdle)
	fsm.Configure(StatusIdle).
		Permit(triggerSend, StatusSending)
	fsm.Configure(StatusSending).
		Permit(triggerReceive, StatusStreaming).
		Permit(triggerFail, StatusFailed)
	fsm.Configure(StatusStreaming).
		OnEntryFrom(triggerReceive, s.appendText).
		InternalTransition(triggerReceive, s.appendText).
		Permit(triggerFinish, StatusDone).
		Permit(triggerFail, StatusFailed)
	fsm.Configure(StatusDone).
		OnEntry(s.close)
	fsm.Configure(StatusFailed).
		OnEntryFrom(triggerFail, s.setErr).
		OnEntry(s.close)
	s.fsm = fsm
	return s
}

func (s *Session) appendText(_ context.Context, args ...any) error {
	if len(args) > 0 {
		if t, ok := args[0].(string); ok {
			s.partial.WriteString(t)
		}
	}
	return nil
}

func (s *Session) setErr(_ context.Context, args ...any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok {
			s.err = err
		}
	}
	return nil
}

func (s *Session) close(context.Context, ...any) error {
	close(s.done)
	return nil
}

func (s *Session) status() Status {
	return s.fsm.MustState().(Status)
}

// begin appends the provisional user message and moves to sending.
func (s *Session) begin(text string) (convo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := convo.NewMessage(convo.RoleUser, text)
	msg.ID = LocalPrefix + uuid.NewString()
	if err := s.fsm.Fire(triggerSend); err != nil {
		return msg, err
	}
	s.local = append(s.local, msg)
	return msg, nil
}

// apply feeds one stream event through the state machine.
func (s *Session) apply(ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case stream.KindContent:
		return s.fsm.Fire(triggerReceive, ev.Text)
	case stream.KindDone:
		if s.status() == StatusSending {
			if err := s.fsm.Fire(triggerReceive, ""); err != nil {
				return err
			}
		}
		return s.fsm.Fire(triggerFinish)
	case stream.KindError:
		return s.fsm.Fire(triggerFail, &TransportError{Op: "stream", Err: fmt.Errorf("%s", ev.Text)})
	}
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ferr := s.fsm.Fire(triggerFail, err); ferr != nil {
		logger().Infow("fail session", "cid", s.cid, "status", s.status(), "err", ferr)
	}
}

func (s *Session) setBase(msgs convo.Messages) {
	s.mu.Lock()
	s.base, s.hasBase = msgs, true
	s.mu.Unlock()
}

// overlayBase returns the durable messages the session was started on.
func (s *Session) overlayBase() (convo.Messages, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Clone(), s.hasBase
}

func (s *Session) setDoneGen(gen uint64) {
	s.mu.Lock()
	s.doneGen = gen
	s.mu.Unlock()
}

func (s *Session) getDoneGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneGen
}

func (s *Session) ConversationID() string { return s.cid }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ConversationID: s.cid,
		Local:          s.local.Clone(),
		Partial:        s.partial.String(),
		Status:         s.status(),
		Err:            s.err,
	}
}

// Done is closed when the session reaches done or failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns its error, if any.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
