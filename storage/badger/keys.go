package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/vecload/core"
)

// Key prefixes for different data types
const (
	jobRecordPrefix  = "migjob"
	jobCreatedPrefix = "migjobc"
)

// makeJobKey generates a key for a migration job by ID.
func makeJobKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%d", jobRecordPrefix, uint64(id)))
}

// makeJobCreatedKey generates a composite key for the creation-time index.
// Format: prefix:createdAt:id
func makeJobCreatedKey(createdAt time.Time, id core.JobID) []byte {
	prefix := jobCreatedPrefix + ":"
	prefixBytes := []byte(prefix)
	prefixSize := len(prefixBytes)
	totalSize := prefixSize + 16 // 8 bytes for timestamp + 8 bytes for ID
	buf := make([]byte, totalSize)
	offset := copy(buf, prefixBytes)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}
