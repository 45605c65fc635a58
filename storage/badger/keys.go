package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/taxcrawl/core"
)

// Key prefixes for different data types
const (
	chunkPrefix = "chunk"
	runPrefix   = "run"
)

// makeChunkCollectionPrefix returns the prefix shared by every chunk of a
// collection. Format: chunk:collection:
func makeChunkCollectionPrefix(collection string) []byte {
	return []byte(chunkPrefix + ":" + collection + ":")
}

// makeChunkKey generates a key for a chunk by ID.
// Format: chunk:collection:id
func makeChunkKey(collection string, id core.ID) []byte {
	prefix := makeChunkCollectionPrefix(collection)
	return append(prefix, id...)
}

// makeRunKey generates a composite key for a run report.
// Format: run:startedAt:id
func makeRunKey(startedAt time.Time, id core.ID) []byte {
	buf := makePartialRunKey(startedAt)
	return append(buf, id...)
}

// makePartialRunKey generates a partial key for seeking by start time.
// Format: run:startedAt
func makePartialRunKey(startedAt time.Time) []byte {
	prefix := []byte(runPrefix + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(startedAt.UnixMicro()))
	return buf
}
