package tracker

import (
	"context"
	"log/slog"
)

// PixelGIF is a 1x1 transparent GIF returned for every tracking hit.
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, // GIF89a
	0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	0x21, 0xF9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00,
	0x3B,
}

// LogStore transitions a delivery log's open state.
type LogStore interface {
	MarkOpened(ctx context.Context, newsletterID, subscriberID int64) (bool, error)
}

// Tracker records newsletter opens signalled by the tracking pixel.
// First open wins: a SENT log transitions to OPENED exactly once, and
// every later hit for the pair is a no-op.
type Tracker struct {
	logger *slog.Logger
	logs   LogStore
}

// NewTracker creates a new Tracker instance
func NewTracker(logger *slog.Logger, logs LogStore) *Tracker {
	return &Tracker{
		logger: logger,
		logs:   logs,
	}
}

// TrackOpen records an open for the (newsletter, subscriber) pair and
// returns the pixel payload. The pixel is returned no matter what
// happened: a tracking failure must never surface to the recipient's
// mail client.
func (t *Tracker) TrackOpen(ctx context.Context, newsletterID, subscriberID int64) []byte {
	transitioned, err := t.logs.MarkOpened(ctx, newsletterID, subscriberID)
	if err != nil {
		t.logger.Error("Failed to record open event",
			slog.Int64("newsletter_id", newsletterID),
			slog.Int64("subscriber_id", subscriberID),
			slog.String("error", err.Error()),
		)
	} else if !transitioned {
		t.logger.Debug("Open event ignored - no SENT log for pair",
			slog.Int64("newsletter_id", newsletterID),
			slog.Int64("subscriber_id", subscriberID),
		)
	}

	return PixelGIF
}
