package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrCircuitOpen: провайдер недавно падал подряд, запрос не отправлялся.
var ErrCircuitOpen = errors.New("payment provider circuit is open")

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig: порог подряд идущих сбоев и время до пробного запроса.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// CircuitBreaker перестаёт обращаться к провайдеру после MaxFailures сбоев
// транспорта или 5xx. Отказ по карте сбоем провайдера не считается.
type CircuitBreaker struct {
	next     Initiator
	provider string
	cfg      BreakerConfig
	logger   *log.Entry
	now      func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker оборачивает next. MaxFailures <= 0 отключает breaker.
func NewCircuitBreaker(next Initiator, provider string, cfg BreakerConfig, logger *log.Entry) Initiator {
	if cfg.MaxFailures <= 0 {
		return next
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.WithField("component", "payment-breaker")
	}
	return &CircuitBreaker{
		next:     next,
		provider: provider,
		cfg:      cfg,
		logger:   logger.WithField("provider", provider),
		now:      time.Now,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Initiate(ctx context.Context, req Request) (Result, error) {
	if !cb.allow() {
		return Result{}, &ProviderError{
			Provider: cb.provider,
			Detail:   "payment provider is temporarily unavailable",
			Err:      ErrCircuitOpen,
		}
	}

	res, err := cb.next.Initiate(ctx, req)
	cb.record(err)
	return res, err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.logger.Info("circuit breaker half-open")
		return true
	case CircuitHalfOpen:
		// Пока идёт пробный запрос, остальные не пропускаем.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if !countsAsOutage(err) {
		if cb.state != CircuitClosed {
			cb.logger.Info("circuit breaker closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		if cb.state != CircuitOpen {
			cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
		}
		cb.state = CircuitOpen
	}
}

// countsAsOutage: сбои транспорта, таймауты и 5xx. Отказ провайдера с телом ответа
// и отмена запроса клиентом не считаются.
func countsAsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	perr, ok := AsProviderError(err)
	if !ok {
		return !errors.Is(err, domain.ErrInvalidInput)
	}
	if perr.StatusCode >= 500 {
		return true
	}
	return perr.StatusCode == 0 && perr.Err != nil
}
