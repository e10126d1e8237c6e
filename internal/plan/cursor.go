package plan

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors not produced by EncodeCursor
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorPrefix = "o:"

// EncodeCursor returns the opaque cursor for the page starting at offset.
// Offset zero is the first page and has no cursor.
func EncodeCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset encoded in cursor; "" decodes to zero
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}

	s := string(raw)
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, ErrInvalidCursor
	}

	offset, err := strconv.Atoi(strings.TrimPrefix(s, cursorPrefix))
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}

	return offset, nil
}
