package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/services/assist"
	"github.com/liut/inkwell/pkg/services/stores"
	"github.com/liut/inkwell/pkg/stream"
)

type scriptReplier struct {
	parts []string
	err   error
	gate  chan struct{}
	seen  convo.Messages
}

func (sr *scriptReplier) Reply(ctx context.Context, history convo.Messages, emit assist.EmitFunc) (string, error) {
	sr.seen = history
	var answer string
	for i, p := range sr.parts {
		if i == 1 && sr.gate != nil {
			<-sr.gate
		}
		if err := emit(p); err != nil {
			return answer, err
		}
		answer += p
	}
	return answer, sr.err
}

func newTestServer(t *testing.T, rp assist.Replier) (*httptest.Server, stores.Storage) {
	t.Helper()
	mr := miniredis.RunT(t)
	sto := stores.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	srv := httptest.NewServer(New(Config{Store: sto, Replier: rp, SendRate: "1000-M"}))
	t.Cleanup(srv.Close)
	return srv, sto
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return res
}

func readEvents(t *testing.T, r io.Reader) (content string, kinds []stream.Kind) {
	t.Helper()
	dec := stream.NewDecoder(r)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == stream.KindContent {
			content += ev.Text
		}
	}
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, &scriptReplier{})
	res, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	assert.Equal(t, "Pong\n", string(b))
}

func TestConversationsAPI(t *testing.T) {
	srv, _ := newTestServer(t, &scriptReplier{})

	res, err := http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	var list []convo.Conversation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	res.Body.Close()
	assert.Empty(t, list)

	res = postJSON(t, srv.URL+"/api/conversations", `{"title":"Drafts"}`)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	var cs convo.Conversation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&cs))
	res.Body.Close()
	assert.NotEmpty(t, cs.ID)
	assert.Equal(t, "Drafts", cs.Title)

	res, err = http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	res.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, cs.ID, list[0].ID)

	res, err = http.Get(srv.URL + "/api/conversations/" + cs.ID)
	require.NoError(t, err)
	var detail convo.Detail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&detail))
	res.Body.Close()
	assert.Equal(t, cs.ID, detail.ID)
	assert.NotNil(t, detail.Messages)
	assert.Empty(t, detail.Messages)

	res, err = http.Get(srv.URL + "/api/conversations/unknown")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPostMessageStreamsAndPersists(t *testing.T) {
	rp := &scriptReplier{parts: []string{"Sure", ", here"}}
	srv, sto := newTestServer(t, rp)
	ctx := context.Background()
	cs, err := sto.CreateConversation(ctx, guestOwner, "t")
	require.NoError(t, err)
	hi := convo.NewMessage(convo.RoleUser, "hi")
	require.NoError(t, sto.AddMessage(ctx, cs.ID, &hi))

	res := postJSON(t, srv.URL+"/api/conversations/"+cs.ID+"/messages", `{"content":"tell me more"}`)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	content, kinds := readEvents(t, res.Body)
	assert.Equal(t, "Sure, here", content)
	assert.Equal(t, []stream.Kind{stream.KindContent, stream.KindContent, stream.KindDone}, kinds)

	require.Len(t, rp.seen, 2)
	assert.Equal(t, "tell me more", rp.seen[1].Content)

	data, err := sto.ListMessage(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, convo.RoleUser, data[1].Role)
	assert.Equal(t, "tell me more", data[1].Content)
	assert.Equal(t, convo.RoleAssistant, data[2].Role)
	assert.Equal(t, "Sure, here", data[2].Content)
}

func TestPostMessageReplyFailure(t *testing.T) {
	rp := &scriptReplier{parts: []string{"partial"}, err: errors.New("model down")}
	srv, sto := newTestServer(t, rp)
	cs, err := sto.CreateConversation(context.Background(), guestOwner, "t")
	require.NoError(t, err)

	res := postJSON(t, srv.URL+"/api/conversations/"+cs.ID+"/messages", `{"content":"x"}`)
	defer res.Body.Close()
	content, kinds := readEvents(t, res.Body)
	assert.Equal(t, "partial", content)
	assert.Equal(t, []stream.Kind{stream.KindContent, stream.KindError}, kinds)

	data, err := sto.ListMessage(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Len(t, data, 1, "only the user message is persisted")
}

func TestPostMessageRejects(t *testing.T) {
	srv, sto := newTestServer(t, &scriptReplier{})
	cs, err := sto.CreateConversation(context.Background(), guestOwner, "t")
	require.NoError(t, err)
	other, err := sto.CreateConversation(context.Background(), "someone", "t")
	require.NoError(t, err)

	res := postJSON(t, srv.URL+"/api/conversations/"+cs.ID+"/messages", `{"content":"  "}`)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = postJSON(t, srv.URL+"/api/conversations/nope/messages", `{"content":"x"}`)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = postJSON(t, srv.URL+"/api/conversations/"+other.ID+"/messages", `{"content":"x"}`)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode, "foreign conversation")
}

func TestPostMessageBusy(t *testing.T) {
	rp := &scriptReplier{parts: []string{"a", "b"}, gate: make(chan struct{})}
	srv, sto := newTestServer(t, rp)
	cs, err := sto.CreateConversation(context.Background(), guestOwner, "t")
	require.NoError(t, err)

	first := postJSON(t, srv.URL+"/api/conversations/"+cs.ID+"/messages", `{"content":"one"}`)
	defer first.Body.Close()
	// the first fragment has been flushed, so the send is in flight
	dec := stream.NewDecoder(first.Body)
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Text)

	second := postJSON(t, srv.URL+"/api/conversations/"+cs.ID+"/messages", `{"content":"two"}`)
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	close(rp.gate)
	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Text)
	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.KindDone, ev.Kind)
}

type uidUser string

func (u uidUser) GetUID() string { return string(u) }

func TestOwnerFrom(t *testing.T) {
	assert.Equal(t, "eagle", ownerFrom(uidUser("eagle"), true))
	assert.Equal(t, guestOwner, ownerFrom(uidUser(""), true))
	assert.Equal(t, guestOwner, ownerFrom(uidUser("eagle"), false))
	assert.Equal(t, guestOwner, ownerFrom(nil, false))

	srv, _ := newTestServer(t, &scriptReplier{})
	res, err := http.Get(srv.URL + "/api/me")
	require.NoError(t, err)
	defer res.Body.Close()
	var me map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&me))
	assert.Equal(t, guestOwner, me["uid"])
}
