// Package support хранит транскрипт чата поддержки и пересылает переписку
// генератору ответов.
package support

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultListLimit    = 200
	maxConversationLen  = 50
	maxMessageTextBytes = 4000
)

// Turn: одна реплика переписки, отправляемой генератору.
type Turn struct {
	Role domain.SupportRole
	Text string
}

// ReplyGenerator: внешний генератор ответов.
type ReplyGenerator interface {
	Generate(ctx context.Context, conversation []Turn) (string, error)
}

// Option настраивает Relay.
type Option func(*Relay)

func WithLogger(logger *log.Entry) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay: фасад чата поддержки.
type Relay struct {
	repo      domain.SupportRepository
	generator ReplyGenerator
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
}

// NewRelay создаёт Relay. generator может быть nil: тогда Reply недоступен.
func NewRelay(repo domain.SupportRepository, generator ReplyGenerator, opts ...Option) *Relay {
	r := &Relay{
		repo:      repo,
		generator: generator,
		logger:    log.WithField("component", "support"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append сохраняет сообщение пользователя. Пустая роль означает user.
func (r *Relay) Append(ctx context.Context, user domain.User, role domain.SupportRole, text string) (domain.SupportMessage, error) {
	if user.ID == "" {
		return domain.SupportMessage{}, domain.ErrUserRequired
	}
	if role == "" {
		role = domain.SupportRoleUser
	}
	if !role.Valid() {
		return domain.SupportMessage{}, fmt.Errorf("%w: unknown support role %q", domain.ErrInvalidInput, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.SupportMessage{}, fmt.Errorf("%w: message text is required", domain.ErrInvalidInput)
	}
	if len(text) > maxMessageTextBytes {
		return domain.SupportMessage{}, fmt.Errorf("%w: message text is too long", domain.ErrInvalidInput)
	}

	msg, err := r.repo.Append(ctx, domain.SupportMessage{UserID: user.ID, Role: role, Text: text})
	if err != nil {
		return domain.SupportMessage{}, fmt.Errorf("%w: append support message: %w", domain.ErrStoreUnavailable, err)
	}
	return msg, nil
}

// List возвращает транскрипт пользователя в хронологическом порядке.
func (r *Relay) List(ctx context.Context, user domain.User, limit int) ([]domain.SupportMessage, error) {
	if user.ID == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	msgs, err := r.repo.ListByUser(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list support messages: %w", domain.ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// Reply пересылает переписку генератору и сохраняет ответ ассистента.
func (r *Relay) Reply(ctx context.Context, user domain.User, conversation []Turn) (domain.SupportMessage, error) {
	if user.ID == "" {
		return domain.SupportMessage{}, domain.ErrUserRequired
	}
	if len(conversation) == 0 {
		return domain.SupportMessage{}, fmt.Errorf("%w: conversation is required", domain.ErrInvalidInput)
	}
	if len(conversation) > maxConversationLen {
		conversation = conversation[len(conversation)-maxConversationLen:]
	}
	if r.generator == nil {
		r.metrics.RecordSupportReply("unavailable")
		return domain.SupportMessage{}, domain.ErrSupportUnavailable
	}

	text, err := r.generator.Generate(ctx, conversation)
	if err != nil {
		if errors.Is(err, domain.ErrSupportUnavailable) {
			r.metrics.RecordSupportReply("unavailable")
			return domain.SupportMessage{}, err
		}
		r.metrics.RecordSupportReply("error")
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("support reply generation failed")
		return domain.SupportMessage{}, fmt.Errorf("generate support reply: %w", err)
	}

	r.metrics.RecordSupportReply("ok")
	msg, err := r.repo.Append(ctx, domain.SupportMessage{UserID: user.ID, Role: domain.SupportRoleAssistant, Text: text})
	if err != nil {
		// Ответ уже получен, отдаём его клиенту даже без сохранения.
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to persist support reply")
		return domain.SupportMessage{UserID: user.ID, Role: domain.SupportRoleAssistant, Text: text}, nil
	}
	return msg, nil
}
