// Package account is the external collaborator spec.md §1 calls out as
// "account persistence and username->identity lookup ... described only
// by the operations the core invokes on it." The core only ever talks to
// the Store interface; this file also provides one concrete, minimal
// implementation on Postgres via jackc/pgx/v5 so the Pairing module and
// get_salt handler have something real to call end to end, per the
// instruction to give every plausible pack dependency a home. Grounded
// on the teacher's server/store/adapter.Adapter — a narrow,
// operation-named interface — generalized down to exactly the
// operations this relay's core invokes (UserCreate/UserGet/credential
// lookups, not the teacher's full topic/subscription/message surface,
// which belongs to a different system than the one spec.md describes).
package account

import (
	"context"
	"errors"
)

// Record is the registration record the core reads to answer get_salt
// and to join invite resolution with a username/KDF salt.
type Record struct {
	Identity  string
	Username  string
	Salt      []byte
	KdfParams interface{}
	PublicKey []byte
}

// ErrUsernameTaken is returned by Register when the username already has
// a distinct identity on file.
var ErrUsernameTaken = errors.New("account: username already registered")

// Store is the interface the core invokes; spec.md places its internals
// out of scope, but the shape of the interface itself is part of the
// core's contract with the outside world.
type Store interface {
	// LookupByUsername resolves a username to its registration record,
	// or (nil, nil) if no such username exists (get_salt).
	LookupByUsername(ctx context.Context, username string) (*Record, error)
	// Lookup resolves an identity to its registration record, or
	// (nil, nil) if unknown (invite resolution join).
	Lookup(ctx context.Context, identity string) (*Record, error)
	// Register creates a new registration record, or returns
	// ErrUsernameTaken if username is already bound to a different
	// identity.
	Register(ctx context.Context, rec Record) error
}
