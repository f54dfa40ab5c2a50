// Package stream implements the framing of a streamed assistant reply:
// UTF-8 segments separated by a blank line, each carrying a "data: " payload
// that is either the legacy "[DONE]" sentinel or a JSON object.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jpillora/eventsource"
)

const (
	// Delimiter separates two frames on the wire.
	Delimiter = "\n\n"
	// DataPrefix starts every frame that carries a payload.
	DataPrefix = "data: "
	// Sentinel is a legacy terminator, ignored by decoders.
	Sentinel = "[DONE]"
)

// Frame is the JSON payload of one segment.
type Frame struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Kind tags an Event
type Kind int

// kinds of event
const (
	KindUnknown Kind = iota
	KindContent
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is one decoded protocol event.
type Event struct {
	Kind Kind
	// fragment for KindContent, message for KindError
	Text string
}

// ContentEvent wraps one reply fragment.
func ContentEvent(s string) Event { return Event{Kind: KindContent, Text: s} }

// DoneEvent marks the end of a reply.
func DoneEvent() Event { return Event{Kind: KindDone} }

// DecodeError reports a single malformed frame. It is recoverable.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %s", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ParseFrame turns the text of one segment into zero or more events.
// Segments without the data prefix and the sentinel yield nothing.
// A payload with both content and done yields the content first.
func ParseFrame(segment string) ([]Event, error) {
	payload, ok := strings.CutPrefix(segment, DataPrefix)
	if !ok || len(payload) == 0 || payload == Sentinel {
		return nil, nil
	}
	var f Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return nil, &DecodeError{Frame: segment, Err: err}
	}
	var out []Event
	if len(f.Content) > 0 {
		out = append(out, ContentEvent(f.Content))
	}
	if len(f.Error) > 0 {
		out = append(out, Event{Kind: KindError, Text: f.Error})
	}
	if f.Done {
		out = append(out, DoneEvent())
	}
	if len(out) == 0 {
		out = append(out, Event{Kind: KindUnknown})
	}
	return out, nil
}

// WriteFrame writes one segment, the caller flushes.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := json.Marshal(&f)
	if err != nil {
		return err
	}
	return eventsource.WriteEvent(w, eventsource.Event{Data: b})
}
