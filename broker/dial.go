package broker

import (
	"log/slog"
	"strings"
)

// MemoryURL selects the in-process hub instead of Redis.
const MemoryURL = "memory://"

// NewDialer picks the broker implementation from the URL scheme.
func NewDialer(url string, maxRetries int, logger *slog.Logger) (Dialer, error) {
	if strings.HasPrefix(url, MemoryURL) {
		return NewMemoryHub(), nil
	}
	return NewRedisDialer(url, maxRetries, logger)
}
