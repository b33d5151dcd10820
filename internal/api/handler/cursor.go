package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/minhhq/newsletter-be/internal/delivery/storage"
)

// DecodeLogCursor parses an opaque cursor string into a log cursor.
// An empty string means the first page.
func DecodeLogCursor(cursorStr string) (*storage.LogCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	return &storage.LogCursor{ID: id}, nil
}

// EncodeLogCursor renders a log cursor as an opaque string.
func EncodeLogCursor(cursor *storage.LogCursor) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(cursor.ID, 10)))
}
