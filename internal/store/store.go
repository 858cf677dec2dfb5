//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groupchat/internal/errs"
	"groupchat/internal/model"
)

// MessageStore owns the durable ordered message log. Every mutation is
// durably recorded before it returns successfully.
type MessageStore interface {
	Append(ctx context.Context, candidate model.Message) (model.Message, error)
	Update(ctx context.Context, id int64, text string) (model.Message, error)
	Remove(ctx context.Context, id int64) (model.Message, error)
	List(ctx context.Context) ([]model.Message, error)
}

// UserStore keeps the identity records created on login.
type UserStore interface {
	TouchUser(ctx context.Context, username string) (model.User, error)
	SaveUser(ctx context.Context, user model.User) (model.User, error)
	Users(ctx context.Context) ([]model.User, error)
}

// Store is a complete storage backend.
type Store interface {
	MessageStore
	UserStore
	Close() error
}

func validateCandidate(m model.Message) error {
	if strings.TrimSpace(m.Username) == "" {
		return fmt.Errorf("%w: username is required", errs.ErrValidation)
	}
	if !m.HasContent() {
		return fmt.Errorf("%w: text or fileUrl is required", errs.ErrValidation)
	}
	return nil
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", errs.ErrValidation)
	}
	return nil
}

func notFound(id int64) error {
	return fmt.Errorf("%w: message %d", errs.ErrNotFound, id)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrPersistence, op, err)
}

// Internal markers returned from inside backend transactions and turned into
// the public taxonomy by classify.
var (
	errMissing      = errors.New("missing")
	errTextRequired = errors.New("text required")
)

func classify(id int64, op string, err error) error {
	switch {
	case errors.Is(err, errMissing):
		return notFound(id)
	case errors.Is(err, errTextRequired):
		return fmt.Errorf("%w: text is required for a message without attachment", errs.ErrValidation)
	default:
		return persistence(op, err)
	}
}
