// Package assist produces assistant replies for a conversation.
package assist

import (
	"context"
	"strings"
	"time"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/settings"
)

// EmitFunc receives reply fragments in order; a non-nil error aborts the reply.
type EmitFunc func(delta string) error

// Replier generates the assistant's next message from the durable history,
// whose last entry is the user's new message.
type Replier interface {
	Reply(ctx context.Context, history convo.Messages, emit EmitFunc) (answer string, err error)
}

// New returns the OpenAI replier when an API key is configured, otherwise the echo replier.
func New(preset Preset) Replier {
	if len(settings.Current.OpenAIAPIKey) > 0 {
		return NewOpenAI(NewOpenAIClient(), settings.Current.ChatModel, preset)
	}
	logger().Infow("no openai key, replies will echo")
	return &Echo{Prefix: preset.welcome()}
}

// Echo replies with the user's last message, one word per fragment.
type Echo struct {
	Prefix string
	Delay  time.Duration
}

func (e *Echo) Reply(ctx context.Context, history convo.Messages, emit EmitFunc) (string, error) {
	var prompt string
	if n := len(history); n > 0 {
		prompt = history[n-1].Content
	}
	text := strings.TrimSpace(e.Prefix + " " + prompt)
	var sb strings.Builder
	for i, w := range strings.SplitAfter(text, " ") {
		if i > 0 && e.Delay > 0 {
			select {
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			case <-time.After(e.Delay):
			}
		}
		if err := emit(w); err != nil {
			return sb.String(), err
		}
		sb.WriteString(w)
	}
	return sb.String(), nil
}
