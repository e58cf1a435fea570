package memory

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultEmbedTimeout bounds a single embedding call.
const DefaultEmbedTimeout = 10 * time.Second

// EmbedText embeds text with a bounded timeout. Any failure is logged and
// reported as a nil vector.
func EmbedText(ctx context.Context, embedder Embedder, text string, timeout time.Duration, logger *log.Logger) []float32 {
	if embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		if logger != nil {
			logger.Warn("embedding failed", "err", err)
		}
		return nil
	}
	return vec
}
