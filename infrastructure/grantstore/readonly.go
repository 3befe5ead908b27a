package grantstore

import (
	"context"
	"errors"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// ErrReadOnly is returned by mutating operations on a read-only store.
var ErrReadOnly = errors.New("grant store is read-only")

// ReadOnly wraps a store and rejects all writes. Useful in CI where the
// grant file is checked in and must not drift.
type ReadOnly struct {
	inner ports.GrantStore
}

// NewReadOnly wraps inner in a read-only view.
func NewReadOnly(inner ports.GrantStore) *ReadOnly {
	return &ReadOnly{inner: inner}
}

var _ ports.GrantStore = (*ReadOnly)(nil)

func (s *ReadOnly) Get(ctx context.Context, key entities.DecisionKey) (entities.Decision, bool, error) {
	return s.inner.Get(ctx, key)
}

func (s *ReadOnly) Put(context.Context, entities.Decision) error {
	return ErrReadOnly
}

func (s *ReadOnly) SubjectHash(ctx context.Context, subject string) (string, bool, error) {
	return s.inner.SubjectHash(ctx, subject)
}

func (s *ReadOnly) SetSubjectHash(context.Context, string, string) error {
	return ErrReadOnly
}

func (s *ReadOnly) DropSubject(context.Context, string) error {
	return ErrReadOnly
}

func (s *ReadOnly) List(ctx context.Context) ([]entities.Decision, error) {
	return s.inner.List(ctx)
}
