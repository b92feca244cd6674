// Package credstore holds the credentials registered during a run so that
// later login attempts can use them.
package credstore

import (
	"context"
	"errors"
)

var (
	// ErrDuplicate is returned by Put when the username is already stored.
	ErrDuplicate = errors.New("credstore: username already stored")

	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("credstore: backend unavailable")
)

// Store maps usernames to passwords for the lifetime of a run.
//
// Put is the only mutation. It inserts atomically and at most once per
// username; readers never see a partially written entry.
type Store interface {
	Put(ctx context.Context, username, password string) error
	Get(ctx context.Context, username string) (password string, ok bool, err error)
	Len(ctx context.Context) (int, error)
	Close() error
}
