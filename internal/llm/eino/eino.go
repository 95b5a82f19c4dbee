// Package eino adapts eino chat models, such as the Ark provider, to llm.Completer.
package eino

import (
	"context"
	"errors"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"folio/internal/llm"
)

const providerName = "eino"

type Completer struct {
	chatModel model.BaseChatModel
	name      string
}

// New wraps chatModel. name labels normalized errors.
func New(chatModel model.BaseChatModel, name string) (*Completer, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if name == "" {
		name = providerName
	}
	return &Completer{chatModel: chatModel, name: name}, nil
}

// ArkConfig is the subset of Ark settings exposed through configuration.
type ArkConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewArk builds a Completer backed by the Volcengine Ark chat model.
func NewArk(ctx context.Context, cfg ArkConfig) (*Completer, error) {
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	return New(chatModel, "ark")
}

func (c *Completer) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := c.chatModel.Generate(ctx, toSchema(req.Conversation()), opts...)
	if err != nil {
		return nil, c.normalize(err)
	}

	resp := &llm.Response{Content: msg.Content, Model: req.Model}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     msg.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: msg.ResponseMeta.Usage.CompletionTokens,
		}
	}
	return resp, nil
}

func toSchema(messages []llm.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// statusCoder is implemented by SDK errors that expose an HTTP status.
type statusCoder interface {
	StatusCode() int
}

func (c *Completer) normalize(err error) error {
	var existing *llm.Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	e := &llm.Error{Provider: c.name, Kind: llm.KindUnknown, Message: err.Error(), Err: err}
	var sc statusCoder
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = llm.KindTimeout
	case errors.As(err, &sc):
		e.StatusCode = sc.StatusCode()
		e.Kind = llm.KindForStatus(e.StatusCode)
	}
	return e
}
