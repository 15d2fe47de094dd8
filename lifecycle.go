package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/cache"
)

var (
	// ErrInstallFailed is returned when the manifest could not be precached.
	ErrInstallFailed = errors.New("install failed")
	// ErrNotInstalled is returned when activating a worker that has not been installed.
	ErrNotInstalled = errors.New("worker not installed")
)

// State is the lifecycle state of a worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	// A worker whose install failed. Installing again may still succeed.
	StateRedundant State = "redundant"
)

func (wk *Worker) State() State {
	wk.stateMutex.RLock()
	defer wk.stateMutex.RUnlock()
	return wk.state
}

func (wk *Worker) setState(s State) {
	wk.stateMutex.Lock()
	defer wk.stateMutex.Unlock()
	wk.log.Debug().Str("from", string(wk.state)).Str("to", string(s)).Msg("Worker state changed")
	wk.state = s
}

// Start brings the worker to the activated state.
// If the static cache of the current version already holds every manifest entry,
// e.g. after a restart, it is used as is; otherwise the worker is installed.
func (wk *Worker) Start(ctx context.Context) error {
	if wk.State() != StateActivated {
		installed, err := wk.isInstalled()
		if err != nil {
			return err
		}
		if installed {
			wk.log.Info().Str("cache", wk.staticName).Msg("Using existing installation")
			wk.setState(StateInstalled)
		} else if err := wk.Install(ctx); err != nil {
			return err
		}
	}
	return wk.Activate(ctx)
}

func (wk *Worker) isInstalled() (bool, error) {
	has, err := wk.storage.Has(wk.staticName)
	if err != nil || !has {
		return false, err
	}
	c, err := wk.storage.Open(wk.staticName)
	if err != nil {
		return false, err
	}
	for _, path := range wk.manifest {
		if _, ok, err := c.Match(wk.keyer.PathKey(path)); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Install precaches every manifest path into the static cache.
// Either all responses are stored or none: the responses are fetched first
// and only written once every one of them succeeded.
// A failed install leaves the worker redundant and returns an error wrapping ErrInstallFailed.
func (wk *Worker) Install(ctx context.Context) (err error) {
	wk.setState(StateInstalling)
	defer func() {
		wk.metrics.install(err)
		if err != nil {
			wk.log.Error().Err(err).Str("cache", wk.staticName).Msg("Install failed")
			wk.setState(StateRedundant)
			return
		}
		wk.log.Info().Str("cache", wk.staticName).Int("entries", len(wk.manifest)).Msg("Installed")
		// skip waiting
		wk.setState(StateInstalled)
	}()

	entries := make([]cache.Entry, 0, len(wk.manifest))
	for _, path := range wk.manifest {
		entry, err := wk.precache(ctx, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInstallFailed, path, err)
		}
		entries = append(entries, entry)
	}

	c, err := wk.storage.Open(wk.staticName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	if err := c.PutAll(entries); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	return nil
}

func (wk *Worker) precache(ctx context.Context, path string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	wk.log.Debug().Str("path", path).Msg("Requesting content from origin")
	res, err := wk.fetcher.Fetch(req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer res.Body.Close()
	if !isSuccess(res.StatusCode) {
		return cache.Entry{}, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	rwtee, err := record(nil, res)
	if err != nil {
		return cache.Entry{}, err
	}
	return wk.entry(wk.keyer.PathKey(path), nil, rwtee)
}

// Activate deletes every cache that is not a current one
// and then claims clients: from here on requests are intercepted.
func (wk *Worker) Activate(ctx context.Context) (err error) {
	switch wk.State() {
	case StateInstalled, StateActivated:
	default:
		return fmt.Errorf("%w: worker is %s", ErrNotInstalled, wk.State())
	}
	wk.setState(StateActivating)
	deleted := 0
	defer func() {
		wk.metrics.activation(err, deleted)
		if err != nil {
			wk.log.Error().Err(err).Msg("Activation failed")
			wk.setState(StateInstalled)
		}
	}()

	names, err := wk.storage.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == wk.staticName || name == wk.dynamicName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		wk.log.Info().Str("cache", name).Msg("Deleting old cache")
		if _, err := wk.storage.Delete(name); err != nil {
			return fmt.Errorf("deleting cache %s: %w", name, err)
		}
		deleted++
	}

	// claim clients
	wk.setState(StateActivated)
	wk.log.Info().Str("static", wk.staticName).Str("dynamic", wk.dynamicName).Msg("Activated")
	return nil
}
