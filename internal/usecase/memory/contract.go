package memory

import (
	"context"

	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
)

// Repository is the record store behind the manager.
type Repository interface {
	Get(ctx context.Context, ns dommem.Namespace, owner, key string) (dommem.Record, error)
	Put(ctx context.Context, rec dommem.Record) error
	Delete(ctx context.Context, ns dommem.Namespace, owner, key string) error
	List(ctx context.Context, ns dommem.Namespace, owner string) ([]dommem.Record, error)
}
