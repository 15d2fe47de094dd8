package main

import (
	"fmt"
	"net"
	"path/filepath"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/config"
	"github.com/always-cache/offline-cache/pkg/notification"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog/log"
)

func openStorage(c config.StorageConfig) (cache.Storage, error) {
	switch c.Provider {
	case "sqlite":
		dbFilename := c.Path
		if dbFilename == "memory" {
			dbFilename = ""
		}
		return cache.NewSQLiteStorage(dbFilename)
	case "leveldb":
		if c.Path == "" || c.Path == "memory" {
			return cache.NewLevelDBMemStorage()
		}
		return cache.NewLevelDBStorage(filepath.Clean(c.Path))
	case "memory":
		return cache.NewMemStorage(), nil
	}
	return nil, fmt.Errorf("unsupported cache provider: %s", c.Provider)
}

func openQueue(c config.StorageConfig) (queue.Queue, error) {
	switch c.Provider {
	case "sqlite":
		dbFilename := c.Path
		if dbFilename == "memory" {
			dbFilename = ""
		}
		return queue.NewSQLiteQueue(dbFilename)
	case "memory":
		return queue.NewMemQueue(), nil
	}
	return nil, fmt.Errorf("unsupported queue provider: %s", c.Provider)
}

// proxyBaseURL is the URL clients reach the proxy at,
// used to open notification URLs.
func proxyBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// worker is an offline cache worker with its storage.
type worker struct {
	*offlinecache.Worker
	storage cache.Storage
	queue   queue.Queue
}

func (w worker) Close() {
	if err := w.queue.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close queue")
	}
	if err := w.storage.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close storage")
	}
}

func newWorker(cfg *config.Config, metrics *offlinecache.Metrics) (worker, error) {
	originURL, err := cfg.OriginURL()
	if err != nil {
		return worker{}, err
	}
	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return worker{}, fmt.Errorf("opening storage: %w", err)
	}
	q, err := openQueue(cfg.Queue)
	if err != nil {
		storage.Close()
		return worker{}, fmt.Errorf("opening queue: %w", err)
	}
	logger := log.Logger
	wk := offlinecache.CreateWorker(offlinecache.Config{
		Storage:         storage,
		Queue:           q,
		OriginURL:       *originURL,
		OriginHost:      cfg.OriginHost,
		FetchTimeout:    cfg.FetchTimeout,
		Logger:          &logger,
		Metrics:         metrics,
		StaticVersion:   cfg.Versions.Static,
		DynamicVersion:  cfg.Versions.Dynamic,
		StaticPrefix:    cfg.CachePrefix.Static,
		DynamicPrefix:   cfg.CachePrefix.Dynamic,
		Manifest:        cfg.Manifest,
		Rules:           cfg.Rules,
		OfflinePage:     cfg.OfflinePage,
		CacheStatus:     cfg.CacheStatus,
		SyncTag:         cfg.Sync.Tag,
		SyncURL:         cfg.Sync.URL,
		PeriodicSyncTag: cfg.PeriodicSync.Tag,
		Notification:    cfg.Notification,
		Notifier:        notification.LogNotifier{Logger: logger},
		Opener:          notification.BrowserOpener{BaseURL: proxyBaseURL(cfg.Listen)},
	})
	return worker{Worker: wk, storage: storage, queue: q}, nil
}
