package offlinecache

import (
	"context"
	"net/http"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// RefreshReport counts the outcome of a static cache refresh.
type RefreshReport struct {
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// PeriodicSync handles a periodic sync event.
// The configured periodic sync tag refreshes the static cache; other tags are ignored.
func (wk *Worker) PeriodicSync(ctx context.Context, tag string) (RefreshReport, error) {
	if tag != wk.periodicSyncTag {
		wk.log.Debug().Str("tag", tag).Msg("Ignoring periodic sync with unknown tag")
		return RefreshReport{}, nil
	}
	return wk.Refresh(ctx)
}

// Refresh re-fetches every entry of the static cache, one entry at a time.
// Successful responses overwrite the stored ones.
// Failures are logged and the stale entry is kept.
func (wk *Worker) Refresh(ctx context.Context) (RefreshReport, error) {
	report := RefreshReport{}
	c, err := wk.storage.Open(wk.staticName)
	if err != nil {
		return report, err
	}
	keys := make([]string, 0)
	if err := c.Keys(func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return report, err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if wk.updateEntry(ctx, key) {
			report.Refreshed++
		} else {
			report.Failed++
		}
	}
	wk.log.Info().
		Str("cache", wk.staticName).
		Int("refreshed", report.Refreshed).
		Int("failed", report.Failed).
		Msg("Refreshed static cache")
	return report, nil
}

// updateEntry will update the stored response identified by the given key.
// The stored response is kept if the update fails for any reason.
func (wk *Worker) updateEntry(ctx context.Context, key string) (ok bool) {
	defer func() {
		wk.metrics.refreshed(ok)
	}()
	req, err := wk.keyer.GetRequestFromKey(key)
	if err != nil {
		wk.log.Error().Err(err).Str("key", key).Msg("Could not get request from key")
		return false
	}
	req = req.WithContext(ctx)
	// re-send the Vary'd headers the entry was stored with,
	// entries stored without a request stay that way
	stored, err := wk.storedRequestOf(wk.staticName, key)
	if err != nil {
		wk.log.Warn().Err(err).Str("key", key).Msg("Could not read stored entry, refreshing without request headers")
	}
	if stored != nil {
		req.Header = stored.Header.Clone()
	}
	wk.log.Trace().Str("key", key).Str("req.path", req.URL.Path).Msg("Updating cache")

	res, err := wk.fetcher.Fetch(req)
	if err != nil {
		wk.log.Warn().Err(err).Str("key", key).Msg("Could not update cache entry")
		return false
	}
	defer res.Body.Close()
	if !isSuccess(res.StatusCode) {
		wk.log.Warn().Int("status", res.StatusCode).Str("key", key).Msg("Origin did not return a successful response, keeping stored entry")
		return false
	}
	rwtee, err := record(nil, res)
	if err != nil {
		wk.log.Warn().Err(err).Str("key", key).Msg("Could not read response body from origin")
		return false
	}
	var recordedReq *http.Request
	if stored != nil {
		recordedReq = req
	}
	if err := wk.put(wk.staticName, key, recordedReq, rwtee); err != nil {
		wk.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		wk.metrics.cacheWrite(wk.staticName, "error")
		return false
	}
	wk.metrics.cacheWrite(wk.staticName, "ok")
	return true
}

// storedRequestOf returns the request stored with the entry under key,
// nil if the entry has none or does not exist.
func (wk *Worker) storedRequestOf(cacheName, key string) (*http.Request, error) {
	c, err := wk.storage.Open(cacheName)
	if err != nil {
		return nil, err
	}
	entry, ok, err := c.Match(key)
	if err != nil || !ok {
		return nil, err
	}
	sRes, err := serializer.BytesToStoredResponse(entry.Bytes)
	if err != nil {
		return nil, err
	}
	return sRes.Request, nil
}

// RunPeriodicSync fires the periodic sync event every interval until ctx is done.
func (wk *Worker) RunPeriodicSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	wk.log.Info().Msgf("Starting cache update loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wk.State() != StateActivated {
				wk.log.Trace().Msg("Worker not active, pausing update")
				continue
			}
			if _, err := wk.PeriodicSync(ctx, wk.periodicSyncTag); err != nil && ctx.Err() == nil {
				wk.log.Error().Err(err).Msg("Periodic sync failed")
			}
		}
	}
}
