package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Cursors encode a plain offset into the stable identifier order of the
// snapshot being paged. Opaque to clients.

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to decode cursor: %w", err)
	}
	offset, err := strconv.Atoi(string(decoded))
	if err != nil {
		return 0, fmt.Errorf("cursor is not a valid offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cursor offset is negative")
	}
	return offset, nil
}
