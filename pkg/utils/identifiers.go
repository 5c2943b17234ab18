package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

//nolint:gochecknoglobals // Process-wide counter keeps IDs unique within one session.
var (
	idCounter int64
	idMu      sync.Mutex
)

func nextCounter() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	return idCounter
}

// ApprovalID derives a unique approval request ID from phase, unit key and
// the current timestamp.
func ApprovalID(phaseCode, unitKey string) string {
	return fmt.Sprintf("appr_%s_%s_%d_%d", SanitizeIdentifier(phaseCode), SanitizeIdentifier(unitKey), time.Now().UnixNano(), nextCounter())
}

// AlertID creates a unique ID for a vigilance alert.
func AlertID() string {
	return fmt.Sprintf("alert_%d_%d", time.Now().UnixNano(), nextCounter())
}

// SyntheticSHA returns a 32-character hex identifier for commits that never
// reach a real repository.
func SyntheticSHA() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SanitizeIdentifier makes an identifier safe for filesystem paths and keys.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}
