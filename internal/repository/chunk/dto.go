package chunk

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	domchunk "github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// buildHashFields flattens a chunk and its vector into HSET fields.
func buildHashFields(c domchunk.Chunk, vector []float32) map[string]string {
	return map[string]string{
		fieldText:         c.Text(),
		fieldTicker:       c.Ticker(),
		fieldFiscalYear:   strconv.Itoa(c.FiscalYear()),
		fieldSection:      c.Section(),
		fieldSourceOffset: strconv.Itoa(c.SourceOffset()),
		fieldVector:       vectorToBytes(vector),
	}
}

// parseHashFields hydrates a chunk from hash fields. The vector is ignored.
func parseHashFields(id string, m map[string]string) (domchunk.Chunk, error) {
	year, err := strconv.Atoi(m[fieldFiscalYear])
	if err != nil {
		return domchunk.Chunk{}, fmt.Errorf("chunk %s: fiscal_year %q: %w", id, m[fieldFiscalYear], err)
	}
	offset := 0
	if s := m[fieldSourceOffset]; s != "" {
		if offset, err = strconv.Atoi(s); err != nil {
			return domchunk.Chunk{}, fmt.Errorf("chunk %s: source_offset %q: %w", id, s, err)
		}
	}
	return domchunk.Reconstruct(id, m[fieldText], m[fieldTicker], year, m[fieldSection], offset), nil
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
