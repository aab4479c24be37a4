package partition

import (
	"github.com/google/uuid"
)

// decodeGUID converts an on-disk GUID (first three groups little-endian) to a UUID.
func decodeGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:16])
	swapGUIDGroups(u[:])
	return u
}

func swapGUIDGroups(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
}
