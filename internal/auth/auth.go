package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleEmployee = "employee"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

type ctxKey string

const ContextUserKey ctxKey = "user"

// User is the authenticated caller as described by the access token.
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsApprover is true for approvers and admins.
func (u *User) IsApprover() bool {
	return u.HasRole(RoleApprover) || u.HasRole(RoleAdmin)
}

type Claims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Title  string   `json:"title,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) User() *User {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &User{
		ID:    id,
		Email: c.Email,
		Name:  c.Name,
		Title: c.Title,
		Roles: c.Roles,
	}
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ContextUserKey).(*User)
	return u, ok && u != nil
}

func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ContextUserKey, u)
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
