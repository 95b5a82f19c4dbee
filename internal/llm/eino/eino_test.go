package eino

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/llm"
)

type scriptedModel struct {
	input []*schema.Message
	opts  []model.Option
	reply *schema.Message
	err   error
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = opts
	return m.reply, m.err
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type httpStatusError struct{ code int }

func (e httpStatusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e httpStatusError) StatusCode() int { return e.code }

func TestComplete(t *testing.T) {
	m := &scriptedModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "summary",
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 30, CompletionTokens: 4},
		},
	}}
	c, err := New(m, "")
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &llm.Request{
		Model:        "doubao-pro",
		SystemPrompt: "sys",
		Prompt:       "go",
		Temperature:  0.3,
		MaxTokens:    100,
	})
	require.NoError(t, err)

	assert.Equal(t, "summary", resp.Content)
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 4}, resp.Usage)
	require.Len(t, m.input, 2)
	assert.Equal(t, schema.System, m.input[0].Role)
	assert.Equal(t, schema.User, m.input[1].Role)

	common := model.GetCommonOptions(nil, m.opts...)
	require.NotNil(t, common.MaxTokens)
	assert.Equal(t, 100, *common.MaxTokens)
	require.NotNil(t, common.Model)
	assert.Equal(t, "doubao-pro", *common.Model)
}

func TestCompleteNormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"rate limited status", httpStatusError{code: 429}, llm.KindRateLimited},
		{"server status", fmt.Errorf("ark: %w", httpStatusError{code: 503}), llm.KindUnavailable},
		{"deadline", context.DeadlineExceeded, llm.KindTimeout},
		{"opaque", errors.New("socket closed"), llm.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(&scriptedModel{err: tt.err}, "ark")
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), &llm.Request{Prompt: "p"})
			assert.Equal(t, tt.want, llm.KindOf(err))
		})
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(nil, "ark")
	assert.Error(t, err)
}
