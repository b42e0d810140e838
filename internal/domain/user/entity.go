// internal/domain/user/entity.go
package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account providers
const (
	ProviderLocal    = "local"
	ProviderExternal = "provider"
)

// User represents the user entity. Provider users have no password hash and
// may have no email.
type User struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email        *string        `gorm:"uniqueIndex;size:255" json:"email"`
	PasswordHash *string        `gorm:"size:255" json:"-"` // Don't return in JSON
	Provider     string         `gorm:"size:20;not null;default:'local'" json:"provider"`
	DisplayName  *string        `gorm:"size:100" json:"display_name"`
	Phone        *string        `gorm:"size:20" json:"phone"`
	Subscribed   bool           `gorm:"default:false" json:"subscribed"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time     `json:"last_login_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook to handle business logic before user creation
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	// Email should be lowercase
	if u.Email != nil {
		normalized := normalizeEmail(*u.Email)
		u.Email = &normalized
	}
	return nil
}

// GetEmail returns the email or an empty string
func (u *User) GetEmail() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// GetDisplayName returns display name (or the email)
func (u *User) GetDisplayName() string {
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) != "" {
		return *u.DisplayName
	}
	return u.GetEmail()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nullable turns blank strings into NULL
func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
