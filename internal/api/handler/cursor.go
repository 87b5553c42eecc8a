package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/vidshare/internal/store"
	"github.com/google/uuid"
)

// DecodeVideoCursor parses an opaque page cursor; an empty string means the first page
func DecodeVideoCursor(cursorStr string) (*store.VideoCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	if _, err := uuid.Parse(decodedParts[1]); err != nil {
		return nil, fmt.Errorf("invalid video id in cursor: %w", err)
	}

	return &store.VideoCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		VideoID:   decodedParts[1],
	}, nil
}

// EncodeVideoCursor renders the keyset position as a URL-safe token
func EncodeVideoCursor(cursor *store.VideoCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.VideoID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
