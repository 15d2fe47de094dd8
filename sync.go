package offlinecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/always-cache/offline-cache/queue"
)

// ErrUnknownSyncTag is returned when queueing a form for a tag nobody syncs.
var ErrUnknownSyncTag = errors.New("unknown sync tag")

// SyncReport counts the outcome of one background sync pass.
type SyncReport struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// QueueForm stores a form submission to be sent by the next background sync with the given tag.
func (wk *Worker) QueueForm(ctx context.Context, tag, contentType string, body []byte) (queue.Form, error) {
	if tag != wk.syncTag {
		return queue.Form{}, fmt.Errorf("%w: %s", ErrUnknownSyncTag, tag)
	}
	f, err := wk.queue.Enqueue(ctx, queue.Form{
		Tag:         tag,
		URL:         wk.syncURL,
		ContentType: contentType,
		Body:        body,
	})
	if err != nil {
		return f, err
	}
	wk.log.Debug().Str("tag", tag).Str("id", f.ID).Msg("Queued form for background sync")
	return f, nil
}

// Sync handles a background sync event.
// For the configured sync tag every pending form is posted, oldest first.
// Forms the origin accepted with a 2xx response are removed,
// the others stay queued with their attempt counter bumped.
// Other tags are ignored.
func (wk *Worker) Sync(ctx context.Context, tag string) (SyncReport, error) {
	report := SyncReport{}
	if tag != wk.syncTag {
		wk.log.Debug().Str("tag", tag).Msg("Ignoring sync with unknown tag")
		return report, nil
	}
	pending, err := wk.queue.Pending(ctx, tag)
	if err != nil {
		return report, fmt.Errorf("reading pending forms: %w", err)
	}
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if wk.sendForm(ctx, f) {
			report.Sent++
			wk.metrics.syncedForm(true)
			if err := wk.queue.Remove(ctx, f.ID); err != nil {
				return report, fmt.Errorf("removing form %s: %w", f.ID, err)
			}
			wk.log.Info().Str("id", f.ID).Msg("Form synced")
			continue
		}
		report.Failed++
		wk.metrics.syncedForm(false)
		if err := wk.queue.MarkAttempt(ctx, f.ID); err != nil {
			return report, fmt.Errorf("marking form %s: %w", f.ID, err)
		}
	}
	return report, nil
}

func (wk *Worker) sendForm(ctx context.Context, f queue.Form) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(f.Body))
	if err != nil {
		wk.log.Error().Err(err).Str("id", f.ID).Str("url", f.URL).Msg("Could not create request for pending form")
		return false
	}
	if f.ContentType != "" {
		req.Header.Set("Content-Type", f.ContentType)
	}
	res, err := wk.fetcher.Fetch(req)
	if err != nil {
		wk.log.Warn().Err(err).Str("id", f.ID).Msg("Failed to sync form")
		return false
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if !isSuccess(res.StatusCode) {
		wk.log.Warn().Int("status", res.StatusCode).Str("id", f.ID).Msg("Failed to sync form")
		return false
	}
	return true
}
