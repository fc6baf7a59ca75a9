package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix.
// Format: prefix-<first 12 hex chars of a v4 uuid>
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, id[:12])
}

// GeneratePassID generates an ID for one sync pass, used to correlate log lines
func GeneratePassID() string {
	return GenerateID("pass")
}

// CursorName returns a server-side cursor name unique to this process
func CursorName(stream string) string {
	return fmt.Sprintf("indexsync_%s_%s", stream, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
