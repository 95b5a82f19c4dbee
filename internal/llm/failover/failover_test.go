package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/llm"
	"folio/pkg/platform/circuit"
	"folio/pkg/testutil"
)

type scripted struct {
	name  string
	calls int
	err   error
}

func (s *scripted) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.name}, nil
}

var unavailable = &llm.Error{Provider: "openai", Kind: llm.KindUnavailable, StatusCode: 503}

func TestFailsOverOnUnavailablePrimary(t *testing.T) {
	primary := &scripted{name: "primary", err: unavailable}
	secondary := &scripted{name: "secondary"}
	c, err := New(primary, secondary)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &llm.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, circuit.StateClosed, c.State())
}

func TestOpenCircuitSkipsPrimaryUntilProbe(t *testing.T) {
	clock := testutil.NewFakeClock()
	primary := &scripted{name: "primary", err: unavailable}
	secondary := &scripted{name: "secondary"}
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithProbeInterval(10*time.Second),
		circuit.WithClock(clock.Now),
	)
	c, err := New(primary, secondary, WithBreaker(breaker))
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		_, err := c.Complete(ctx, &llm.Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, circuit.StateOpen, c.State())
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 3, secondary.calls)

	// a failed probe keeps the circuit open
	clock.Advance(10 * time.Second)
	_, err = c.Complete(ctx, &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, circuit.StateOpen, c.State())

	primary.err = nil
	clock.Advance(10 * time.Second)
	resp, err := c.Complete(ctx, &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Content)
	assert.Equal(t, circuit.StateClosed, c.State())
}

func TestNonFailoverErrorsAreReturned(t *testing.T) {
	limited := &llm.Error{Provider: "openai", Kind: llm.KindRateLimited, StatusCode: 429}
	primary := &scripted{name: "primary", err: limited}
	secondary := &scripted{name: "secondary"}
	c, err := New(primary, secondary)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &llm.Request{})
	assert.ErrorIs(t, err, limited)
	assert.Equal(t, 0, secondary.calls)
}

func TestWithoutSecondaryReturnsPrimaryError(t *testing.T) {
	primary := &scripted{name: "primary", err: unavailable}
	c, err := New(primary, nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &llm.Request{})
	assert.Equal(t, llm.KindUnavailable, llm.KindOf(err))

	_, err = New(nil, primary)
	assert.Error(t, err)
}
