package domain

import "time"

// User: аутентифицированный пользователь из bearer-токена.
type User struct {
	ID    string
	Email string
}

// SupportRole: автор сообщения в чате поддержки.
type SupportRole string

const (
	SupportRoleUser      SupportRole = "user"
	SupportRoleAssistant SupportRole = "assistant"
)

// Valid проверяет роль.
func (r SupportRole) Valid() bool {
	return r == SupportRoleUser || r == SupportRoleAssistant
}

// SupportMessage: одно сообщение транскрипта.
type SupportMessage struct {
	ID        string
	UserID    string
	Role      SupportRole
	Text      string
	CreatedAt time.Time
}

// Profile: публичный профиль пользователя.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	UpdatedAt   time.Time
}
