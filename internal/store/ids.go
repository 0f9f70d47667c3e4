package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

var idMu sync.Mutex
var lastIDMillis int64

// NewStreamID generates a caller-visible stream identifier that sorts
// lexicographically in creation order: a 12-hex-digit millisecond timestamp
// followed by 10 random bytes. The millisecond clock is forced forward under
// contention so identifiers issued by one process never collide or regress.
func NewStreamID() (string, error) {
	idMu.Lock()
	millis := time.Now().UnixMilli()
	if millis <= lastIDMillis {
		millis = lastIDMillis + 1
	}
	lastIDMillis = millis
	idMu.Unlock()

	suffix := make([]byte, 10)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate stream id: %w", err)
	}
	return fmt.Sprintf("%012x%s", millis, hex.EncodeToString(suffix)), nil
}
