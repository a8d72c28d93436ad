package deploy

import "log/slog"

// BestEffort wraps operations whose failures are logged but never propagated,
// such as tearing down a stale container before a fresh start. Using the
// wrapper keeps these distinguishable from operations whose errors must
// surface.
type BestEffort struct {
	log *slog.Logger
}

// NewBestEffort returns a wrapper logging through the given logger.
func NewBestEffort(log *slog.Logger) BestEffort {
	return BestEffort{log: log}
}

// Do runs fn and swallows its error after logging it.
func (b BestEffort) Do(desc string, fn func() error) {
	if err := fn(); err != nil && b.log != nil {
		b.log.Warn("best-effort operation failed", "op", desc, "error", err)
	}
}
