package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is an operator allowed to trigger batches and read run history.
// The bootstrap admin (from env) is created as a row in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	IsAdmin bool `gorm:"default:false"`
}

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials. If a user with that
// username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count bootstrap admin")
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash bootstrap password")
	}

	admin := &User{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}
	return db.Create(admin).Error
}

// AuthenticateAdmin checks the credentials of an admin user.
func AuthenticateAdmin(ctx context.Context, db *gorm.DB, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var u User
	err := db.WithContext(ctx).Where("username = ? AND is_admin = ?", username, true).Limit(1).Find(&u).Error
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	if u.ID == 0 {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}
