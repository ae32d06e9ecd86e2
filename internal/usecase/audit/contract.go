package audit

import (
	"context"

	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// ChunkGetter re-reads cited chunks from the document store.
type ChunkGetter interface {
	Get(ctx context.Context, id string) (chunk.Chunk, error)
}
