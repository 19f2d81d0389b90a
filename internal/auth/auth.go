// Package auth проверяет bearer-токены внешнего провайдера аутентификации
// и определяет администраторов магазина.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Claims: содержимое access-токена. Subject, id пользователя.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier проверяет HS256-токены общим секретом.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier создаёт Verifier. Пустой секрет делает любой токен невалидным.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}
}

// Verify разбирает токен и возвращает пользователя.
func (v *Verifier) Verify(token string) (domain.User, error) {
	if v == nil || len(v.secret) == 0 {
		return domain.User{}, fmt.Errorf("%w: verifier is not configured", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.User{}, fmt.Errorf("%w: token without subject", domain.ErrUnauthorized)
	}

	return domain.User{ID: claims.Subject, Email: strings.TrimSpace(claims.Email)}, nil
}

// Issue подписывает токен для пользователя. Используется CLI и тестами.
func (v *Verifier) Issue(user domain.User, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken достаёт токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// AdminPolicy: список email администраторов.
type AdminPolicy struct {
	emails map[string]struct{}
}

// NewAdminPolicy нормализует email к нижнему регистру.
func NewAdminPolicy(emails []string) *AdminPolicy {
	p := &AdminPolicy{emails: make(map[string]struct{}, len(emails))}
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			p.emails[email] = struct{}{}
		}
	}
	return p
}

// IsAdmin сообщает, является ли пользователь администратором.
func (p *AdminPolicy) IsAdmin(user domain.User) bool {
	if p == nil || user.Email == "" {
		return false
	}
	_, ok := p.emails[strings.ToLower(user.Email)]
	return ok
}

type userKey struct{}

// WithUser кладёт пользователя в контекст запроса.
func WithUser(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom достаёт пользователя из контекста.
func UserFrom(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userKey{}).(domain.User)
	return user, ok && user.ID != ""
}
