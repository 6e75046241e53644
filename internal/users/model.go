// Package users implements the user records API on top of the document
// store.
package users

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// CollectionName is the store collection holding user documents.
const CollectionName = "users"

// Role is the coarse permission level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a stored user record. The password hash is never serialised to
// JSON.
type User struct {
	ID           bson.ObjectID `json:"id" bson:"_id,omitempty"`
	Name         string        `json:"name" bson:"name"`
	Email        string        `json:"email" bson:"email"`
	Role         Role          `json:"role" bson:"role"`
	PasswordHash string        `json:"-" bson:"password_hash"`
	CreatedAt    time.Time     `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updated_at"`
}

// CreateRequest is the body of POST /api/v1/users.
type CreateRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

// UpdateRequest is the body of PATCH /api/v1/users/{id}. Nil fields are left
// unchanged.
type UpdateRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=100"`
	Email *string `json:"email" validate:"omitempty,email"`
	Role  *string `json:"role" validate:"omitempty,oneof=user admin"`
}

// Empty reports whether the request changes nothing.
func (r UpdateRequest) Empty() bool {
	return r.Name == nil && r.Email == nil && r.Role == nil
}

// Changes is the set of fields an update writes.
type Changes struct {
	Name  *string
	Email *string
	Role  *Role
}

// ListOptions pages through users, newest first.
type ListOptions struct {
	Limit int64
	Skip  int64
}

// Page is one page of users.
type Page struct {
	Users []*User `json:"users"`
	Total int64   `json:"total"`
	Limit int64   `json:"limit"`
	Skip  int64   `json:"skip"`
}

// Repository persists users. Implementations return taxonomy errors for
// not-found and malformed identifiers; store failures are returned as is.
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, opts ListOptions) ([]*User, int64, error)
	Update(ctx context.Context, id string, changes Changes) (*User, error)
	Delete(ctx context.Context, id string) error
}

// NewValidator returns a validator reporting fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// bcrypt only accepts passwords up to 72 bytes, whatever their rune count.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}
