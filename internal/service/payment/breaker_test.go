package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type scriptedInitiator struct {
	errs  []error
	calls int
}

func (s *scriptedInitiator) Initiate(context.Context, Request) (Result, error) {
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	if err != nil {
		return Result{}, err
	}
	return Result{RedirectURL: "https://pay.test/ok"}, nil
}

func newTestBreaker(next Initiator, now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(next, "direct", BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute}, nil).(*CircuitBreaker)
	cb.now = func() time.Time { return *now }
	return cb
}

func outage() error {
	return &ProviderError{Provider: "direct", Detail: "gateway unreachable", Err: errors.New("dial tcp: refused")}
}

func TestCircuitBreaker_OpensAfterConsecutiveOutages(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next := &scriptedInitiator{errs: []error{outage(), outage()}}
	cb := newTestBreaker(next, &now)
	ctx := context.Background()

	_, err := cb.Initiate(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())

	_, err = cb.Initiate(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())

	_, err = cb.Initiate(ctx, Request{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Equal(t, 2, next.calls, "open circuit does not reach the provider")
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next := &scriptedInitiator{errs: []error{outage(), outage()}}
	cb := newTestBreaker(next, &now)
	ctx := context.Background()

	_, _ = cb.Initiate(ctx, Request{})
	_, _ = cb.Initiate(ctx, Request{})
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	res, err := cb.Initiate(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/ok", res.RedirectURL)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next := &scriptedInitiator{errs: []error{outage(), outage(), outage()}}
	cb := newTestBreaker(next, &now)
	ctx := context.Background()

	_, _ = cb.Initiate(ctx, Request{})
	_, _ = cb.Initiate(ctx, Request{})
	now = now.Add(2 * time.Minute)

	_, err := cb.Initiate(ctx, Request{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_DeclinesDoNotTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	decline := &ProviderError{Provider: "direct", Detail: "card declined"}
	clientErr := &ProviderError{Provider: "direct", StatusCode: 400, Detail: "Bad Request"}
	invalid := fmt.Errorf("%w: card details are required", domain.ErrInvalidInput)
	next := &scriptedInitiator{errs: []error{decline, clientErr, invalid, context.Canceled}}
	cb := newTestBreaker(next, &now)

	for i := 0; i < 4; i++ {
		_, err := cb.Initiate(context.Background(), Request{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ServerErrorsTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	bad := &ProviderError{Provider: "hosted", StatusCode: 503}
	next := &scriptedInitiator{errs: []error{bad, bad}}
	cb := newTestBreaker(next, &now)

	_, _ = cb.Initiate(context.Background(), Request{})
	_, _ = cb.Initiate(context.Background(), Request{})
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestNewCircuitBreaker_DisabledReturnsNext(t *testing.T) {
	next := &scriptedInitiator{}
	assert.Same(t, next, NewCircuitBreaker(next, "direct", BreakerConfig{}, nil))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
