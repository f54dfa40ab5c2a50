package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liut/inkwell/pkg/stream"
)

func sseServer(t *testing.T, status int, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"status":409,"message":"conversation busy"}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			fl.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, tr *Transport) (events []stream.Event, err error) {
	t.Helper()
	for ev, e := range tr.OpenStream(context.Background(), "c1", "hi") {
		if e != nil {
			return events, e
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestOpenStreamChunked(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		"data: {\"conte", "nt\":\"Sure, \"}\n", "\ndata: {oops}\n\n",
		"data: [DONE]\n\ndata: {\"content\":\"here\"}\n\n",
		"data: {\"done\":true}\n\n",
		"data: {\"content\":\"after done\"}\n\n",
	)
	tr, err := NewTransport(srv.URL)
	require.NoError(t, err)

	events, err := collect(t, tr)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{
		stream.ContentEvent("Sure, "),
		stream.ContentEvent("here"),
		stream.DoneEvent(),
	}, events)
}

func TestOpenStreamFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		tr, err := NewTransport(sseServer(t, http.StatusConflict).URL)
		require.NoError(t, err)
		_, err = collect(t, tr)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusConflict, te.Status)
		assert.Contains(t, te.Error(), "conversation busy")
	})

	t.Run("eof before done", func(t *testing.T) {
		tr, err := NewTransport(sseServer(t, http.StatusOK, "data: {\"content\":\"par\"}\n\n").URL)
		require.NoError(t, err)
		events, err := collect(t, tr)
		assert.Len(t, events, 1)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("error frame", func(t *testing.T) {
		tr, err := NewTransport(sseServer(t, http.StatusOK,
			"data: {\"content\":\"par\"}\n\ndata: {\"error\":\"failed to generate reply\"}\n\n").URL)
		require.NoError(t, err)
		_, err = collect(t, tr)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "stream", te.Op)
		assert.EqualError(t, errors.Unwrap(err), "failed to generate reply")
	})

	t.Run("refused", func(t *testing.T) {
		srv := sseServer(t, http.StatusOK)
		srv.Close()
		tr, err := NewTransport(srv.URL)
		require.NoError(t, err)
		_, err = collect(t, tr)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Zero(t, te.Status)
	})
}

func TestOpenStreamStopsOnBreak(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		"data: {\"content\":\"a\"}\n\n", "data: {\"content\":\"b\"}\n\n", "data: {\"done\":true}\n\n")
	tr, err := NewTransport(srv.URL)
	require.NoError(t, err)

	var n int
	for _, err := range tr.OpenStream(context.Background(), "c1", "hi") {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestTransportCookies(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("inkc"); err == nil {
			got = c.Value
		}
		_, _ = io.WriteString(w, "[]")
	}))
	defer srv.Close()

	tr, err := NewTransport(srv.URL+"/api", WithCookies(&http.Cookie{Name: "inkc", Value: "tok"}))
	require.NoError(t, err)
	items, err := tr.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, "tok", got)

	msgs, err := tr.GetMessages(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, msgs)
}
