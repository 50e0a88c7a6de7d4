package llm

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// NewBatchID returns a 24 hex character id: a 4 byte unix timestamp followed
// by 8 random bytes.
func NewBatchID() string {
	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 8)
	rand.Read(randomBytes)

	id := make([]byte, 12)
	binary.BigEndian.PutUint32(id[:4], uint32(timestamp))
	copy(id[4:], randomBytes)

	return hex.EncodeToString(id)
}

func isValidBatchID(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil && len(s) == 24
}

// EnsureBatchID returns s when it is already a batch id, otherwise a fresh one.
func EnsureBatchID(s string) string {
	if !isValidBatchID(s) {
		return NewBatchID()
	}
	return s
}
