package batch

import (
	"context"

	domchunk "github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// ChunkWriter persists embedded chunks behind the FT index.
type ChunkWriter interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, items []domchunk.Embedded) error
}
