package transport

import "fmt"

// WrapHTML embeds the newsletter content in the delivery envelope used by
// the orchestrator and dispatch paths: the raw content followed by the
// open-tracking pixel. The batch pipeline wraps content with its own
// envelope, see internal/delivery/batch.
func WrapHTML(content, baseURL string, newsletterID, subscriberID int64) string {
	return fmt.Sprintf(
		"<html><body>%s<img src=\"%s/delivery/track/%d/%d\" width=\"1\" height=\"1\" alt=\"\"/></body></html>",
		content, baseURL, newsletterID, subscriberID,
	)
}
