package journal

import (
	"context"
	"fmt"

	"github.com/roach88/storysync/internal/op"
)

// Journal is a durable log of pending operations.
type Journal interface {
	// Append records operations. Appending an operation whose ID is already
	// present is a no-op.
	Append(ctx context.Context, ops ...op.Operation) error
	// Remove forgets operations by ID. Unknown IDs are ignored.
	Remove(ctx context.Context, ids ...string) error
	// Pending returns the operations of one chapter ordered by timestamp,
	// ties by append order.
	Pending(ctx context.Context, scope op.Scope) ([]op.Operation, error)
	// Scopes lists chapters that have pending operations.
	Scopes(ctx context.Context) ([]op.Scope, error)
	Close() error
}

// Backend names a journal implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
	BackendNone   Backend = "none"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend
	// Path is the SQLite database file.
	Path string
	// RedisURL is a redis:// URL.
	RedisURL string
	// Prefix namespaces Redis keys. Defaults to "storysync:".
	Prefix string
}

// Open creates the journal described by opts.
func Open(opts Options) (Journal, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("open journal: sqlite backend needs a path")
		}
		return OpenStore(opts.Path)
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("open journal: redis backend needs a url")
		}
		return NewRedisJournal(opts.RedisURL, opts.Prefix)
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("open journal: unknown backend %q", opts.Backend)
	}
}

// IDs returns the journal IDs of ops.
func IDs(ops ...op.Operation) ([]string, error) {
	ids := make([]string, 0, len(ops))
	for _, o := range ops {
		id, err := op.ID(o)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Nop is a Journal that records nothing.
type Nop struct{}

func (Nop) Append(context.Context, ...op.Operation) error { return nil }

func (Nop) Remove(context.Context, ...string) error { return nil }

func (Nop) Pending(context.Context, op.Scope) ([]op.Operation, error) { return nil, nil }

func (Nop) Scopes(context.Context) ([]op.Scope, error) { return nil, nil }

func (Nop) Close() error { return nil }
