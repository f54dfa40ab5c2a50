package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/stream"
)

// API is what the controller needs from the service.
type API interface {
	ListConversations(ctx context.Context) (convo.Conversations, error)
	CreateConversation(ctx context.Context, title string) (*convo.Conversation, error)
	GetMessages(ctx context.Context, cid string) (convo.Messages, error)
	// OpenStream submits text and yields the reply's events until done.
	// A non-nil error is always the last value yielded.
	OpenStream(ctx context.Context, cid, text string) iter.Seq2[stream.Event, error]
}

// Transport talks to the conversation API over HTTP with cookie credentials.
type Transport struct {
	base *url.URL
	hc   *http.Client
}

var _ API = (*Transport)(nil)

type Option func(*Transport)

// WithHTTPClient replaces the default client, which has a cookie jar and no timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transport) { t.hc = hc }
}

// WithCookies seeds the session credentials sent with every request.
func WithCookies(cookies ...*http.Cookie) Option {
	return func(t *Transport) {
		if t.hc.Jar != nil {
			t.hc.Jar.SetCookies(t.base, cookies)
		}
	}
}

// NewTransport returns a transport for an API base such as "http://localhost:5001/api".
func NewTransport(base string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	t := &Transport{base: u, hc: &http.Client{Jar: jar}}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type apiError struct {
	Message string `json:"message"`
}

func (t *Transport) do(ctx context.Context, op, method, path string, body any, accept string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base.String()+path, rd)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	res, err := t.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		var ae apiError
		msg := http.StatusText(res.StatusCode)
		if b, _ := io.ReadAll(io.LimitReader(res.Body, 4096)); json.Unmarshal(b, &ae) == nil && len(ae.Message) > 0 {
			msg = ae.Message
		}
		return nil, &TransportError{Op: op, Status: res.StatusCode, Err: errors.New(msg)}
	}
	return res, nil
}

func (t *Transport) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	res, err := t.do(ctx, op, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err = json.NewDecoder(res.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: res.StatusCode, Err: err}
	}
	return nil
}

func (t *Transport) ListConversations(ctx context.Context) (data convo.Conversations, err error) {
	err = t.doJSON(ctx, "list conversations", http.MethodGet, "/conversations", nil, &data)
	return
}

func (t *Transport) CreateConversation(ctx context.Context, title string) (*convo.Conversation, error) {
	cs := new(convo.Conversation)
	err := t.doJSON(ctx, "create conversation", http.MethodPost, "/conversations", M{"title": title}, cs)
	if err != nil {
		return nil, err
	}
	if len(cs.ID) == 0 {
		return nil, &TransportError{Op: "create conversation", Err: errors.New("empty conversation id")}
	}
	return cs, nil
}

// GetMessages returns an empty sequence for an empty id.
func (t *Transport) GetMessages(ctx context.Context, cid string) (convo.Messages, error) {
	if len(cid) == 0 {
		return nil, nil
	}
	var detail convo.Detail
	err := t.doJSON(ctx, "get messages", http.MethodGet, "/conversations/"+url.PathEscape(cid), nil, &detail)
	if err != nil {
		return nil, err
	}
	return detail.Messages, nil
}

// OpenStream posts the message and decodes the streamed reply lazily: each
// event is read off the body only when the consumer asks for the next one.
// Malformed frames are logged and skipped.
func (t *Transport) OpenStream(ctx context.Context, cid, text string) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		res, err := t.do(ctx, "open stream", http.MethodPost,
			"/conversations/"+url.PathEscape(cid)+"/messages", M{"content": text}, "text/event-stream")
		if err != nil {
			yield(stream.Event{}, err)
			return
		}
		defer res.Body.Close()

		dec := stream.NewDecoder(res.Body)
		for {
			ev, err := dec.Next()
			if err != nil {
				var de *stream.DecodeError
				if errors.As(err, &de) {
					logger().Warnw("drop malformed frame", "cid", cid, "err", de)
					continue
				}
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				yield(stream.Event{}, &TransportError{Op: "read stream", Err: err})
				return
			}
			if ev.Kind == stream.KindError {
				yield(stream.Event{}, &TransportError{Op: "stream", Err: errors.New(ev.Text)})
				return
			}
			if !yield(ev, nil) || ev.Kind == stream.KindDone {
				return
			}
		}
	}
}

// M is a JSON object
type M = map[string]any
