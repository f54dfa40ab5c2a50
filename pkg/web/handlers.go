package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/marcsv/go-binder/binder"
	"github.com/spf13/cast"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/services/stores"
	"github.com/liut/inkwell/pkg/stream"
)

type conversationReq struct {
	Title string `json:"title"`
}

type messageReq struct {
	Content string `json:"content"`
}

func (s *server) listConversations(w http.ResponseWriter, r *http.Request) {
	limit := cast.ToInt(r.URL.Query().Get("limit"))
	data, err := s.sto.ListConversation(r.Context(), s.ownerOf(r), limit)
	if err != nil {
		logger().Infow("list conversation fail", "err", err)
		apiFail(w, r, 500, err)
		return
	}
	if data == nil {
		data = convo.Conversations{}
	}
	render.JSON(w, r, data)
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	var param conversationReq
	if err := binder.BindBody(r, &param); err != nil {
		apiFail(w, r, 400, err)
		return
	}
	cs, err := s.sto.CreateConversation(r.Context(), s.ownerOf(r), param.Title)
	if err != nil {
		apiFail(w, r, 500, err)
		return
	}
	logger().Infow("created conversation", "id", cs.ID, "title", cs.Title)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cs)
}

// loadConversation writes the failure itself and returns nil when the
// conversation is unknown or belongs to someone else.
func (s *server) loadConversation(w http.ResponseWriter, r *http.Request) *convo.Conversation {
	id := chi.URLParam(r, "id")
	cs, err := s.sto.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) || errors.Is(err, stores.ErrEmptyParam) {
			apiFail(w, r, 404, "conversation not found")
		} else {
			apiFail(w, r, 500, err)
		}
		return nil
	}
	if cs.Owner != s.ownerOf(r) {
		apiFail(w, r, 404, "conversation not found")
		return nil
	}
	return cs
}

func (s *server) getConversation(w http.ResponseWriter, r *http.Request) {
	cs := s.loadConversation(w, r)
	if cs == nil {
		return
	}
	data, err := s.sto.ListMessage(r.Context(), cs.ID)
	if err != nil {
		apiFail(w, r, 500, err)
		return
	}
	if data == nil {
		data = convo.Messages{}
	}
	render.JSON(w, r, &convo.Detail{Conversation: *cs, Messages: data})
}

// postMessage persists the user message, streams the reply as frames, and
// persists the reply before the final done frame.
func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	var param messageReq
	if err := binder.BindBody(r, &param); err != nil {
		apiFail(w, r, 400, err)
		return
	}
	if len(strings.TrimSpace(param.Content)) == 0 {
		apiFail(w, r, 400, "empty content")
		return
	}
	cs := s.loadConversation(w, r)
	if cs == nil {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	release, ok := s.claim(cs.ID)
	if !ok {
		apiFail(w, r, 409, "conversation busy")
		return
	}
	defer release()

	ctx := r.Context()
	history, err := s.prepare(ctx, cs.ID, param.Content)
	if err != nil {
		apiFail(w, r, 500, err)
		return
	}
	logger().Infow("chat", "cid", cs.ID, "msgs", len(history), "ip", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Conversation-ID", cs.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.reply(ctx, cs.ID, history, func(f stream.Frame) error {
		if err := stream.WriteFrame(w, f); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, release)
}

// claim marks a conversation as generating. Only the first call of
// release frees it, so a later claim is never dropped by a stale release.
func (s *server) claim(cid string) (release func(), ok bool) {
	if _, busy := s.inflight.LoadOrStore(cid, struct{}{}); busy {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { s.inflight.Delete(cid) }) }, true
}

// prepare persists the user message and returns the history it ends.
func (s *server) prepare(ctx context.Context, cid, content string) (convo.Messages, error) {
	um := convo.NewMessage(convo.RoleUser, content)
	if err := s.sto.AddMessage(ctx, cid, &um); err != nil {
		return nil, err
	}
	return s.sto.ListMessage(ctx, cid)
}

type frameSink func(stream.Frame) error

// reply generates the answer into send, one frame per fragment, then
// persists it. The conversation is released before the last frame is sent,
// which is either done or error.
func (s *server) reply(ctx context.Context, cid string, history convo.Messages, send frameSink, release func()) {
	answer, err := s.rp.Reply(ctx, history, func(delta string) error {
		return send(stream.Frame{Content: delta})
	})
	if err != nil {
		logger().Infow("reply fail", "cid", cid, "answer", len(answer), "err", err)
		release()
		sendFrame(send, stream.Frame{Error: "failed to generate reply"})
		return
	}

	am := convo.NewMessage(convo.RoleAssistant, answer)
	err = s.sto.AddMessage(ctx, cid, &am)
	release()
	if err != nil {
		logger().Infow("save reply fail", "cid", cid, "err", err)
		sendFrame(send, stream.Frame{Error: "failed to save reply"})
		return
	}
	sendFrame(send, stream.Frame{Done: true})
	logger().Infow("chat done", "cid", cid, "answer", len(answer))
}

func sendFrame(send frameSink, f stream.Frame) {
	if err := send(f); err != nil {
		logger().Infow("write frame fail", "err", err)
	}
}
