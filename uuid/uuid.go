package uuid

import (
	"bytes"

	"github.com/satori/go.uuid"
)

// NewId returns a fresh random (v4) UUID, papering over the error return
// that satori's NewV4 grew in later revisions.
func NewId() uuid.UUID {
	id, _ := uuid.NewV4()
	return id
}

// UUIDList implements sort.Interface so callers can produce stable
// orderings of UUID-keyed maps.
type UUIDList []uuid.UUID

func (ul UUIDList) Len() int {
	return len(ul)
}

func (ul UUIDList) Swap(i, j int) {
	ul[i], ul[j] = ul[j], ul[i]
}

func (ul UUIDList) Less(i, j int) bool {
	return bytes.Compare(ul[i][:], ul[j][:]) == -1
}
