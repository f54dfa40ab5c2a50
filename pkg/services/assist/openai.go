package assist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/settings"
)

const (
	openaiTimeout = time.Second * 90
)

// NewOpenAIClient builds a client from the current settings.
func NewOpenAIClient() *openai.Client {
	occ := openai.DefaultConfig(settings.Current.OpenAIAPIKey)
	if len(settings.Current.OpenAIBaseURL) > 0 {
		occ.BaseURL = settings.Current.OpenAIBaseURL
	}
	occ.HTTPClient = &http.Client{
		Timeout:   openaiTimeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
	return openai.NewClientWithConfig(occ)
}

// ChatStreamer is the part of *openai.Client used here.
type ChatStreamer interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

type openaiReplier struct {
	oc     ChatStreamer
	model  string
	preset Preset
}

// NewOpenAI returns a Replier streaming chat completions of model.
func NewOpenAI(oc ChatStreamer, model string, preset Preset) Replier {
	if len(preset.Model) > 0 {
		model = preset.Model
	}
	return &openaiReplier{oc: oc, model: model, preset: preset}
}

func (r *openaiReplier) request(history convo.Messages) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.preset.systemPrompt(),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == convo.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		MaxTokens:   r.preset.MaxTokens,
		Temperature: r.preset.Temperature,
		Stop:        r.preset.Stop,
		Stream:      true,
	}
}

func (r *openaiReplier) Reply(ctx context.Context, history convo.Messages, emit EmitFunc) (string, error) {
	ccs, err := r.oc.CreateChatCompletionStream(ctx, r.request(history))
	if err != nil {
		logger().Infow("call chat stream fail", "err", err)
		return "", err
	}
	defer ccs.Close()

	var answer strings.Builder
	for {
		ccsr, err := ccs.Recv()
		if errors.Is(err, io.EOF) {
			logger().Debugw("ccs recv eof", "answer", answer.Len())
			break
		}
		if err != nil {
			logger().Infow("ccs recv fail", "err", err)
			return answer.String(), err
		}
		if len(ccsr.Choices) == 0 {
			continue
		}
		delta := ccsr.Choices[0].Delta.Content
		if len(delta) > 0 {
			if err = emit(delta); err != nil {
				return answer.String(), err
			}
			answer.WriteString(delta)
		}
		if reason := ccsr.Choices[0].FinishReason; len(reason) > 0 {
			logger().Debugw("stream done", "reason", reason)
			break
		}
	}
	return answer.String(), nil
}
