package backend

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/heap"
	"github.com/joeandaverde/heapdb/internal/pager"
	"github.com/joeandaverde/heapdb/internal/storage"
)

// Engine owns the allocator, the buffer pool over it and the heap layer of
// one data directory.
type Engine struct {
	sync.Mutex
	log      *logrus.Logger
	config   Config
	alloc    *storage.Allocator
	pool     *pager.BufferPool
	heap     *heap.Heap
	registry *prometheus.Registry
	closed   bool
}

// Start opens the data directory described by config.
func Start(log *logrus.Logger, config Config) (*Engine, error) {
	log.Infof("Starting storage engine [DataDir: %s, PageSize: %d, Buffers: %d, Policy: %s]",
		config.DataDir, config.PageSize, config.BufferCount, config.Policy)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(config.DataDir, storage.BinDir), 0o750); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	alloc, err := storage.Open(log, config.storageOptions())
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := pager.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	pool, err := pager.NewBufferPool(log, alloc, pager.Options{
		Frames:  config.BufferCount,
		Policy:  config.Policy,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		log:      log,
		config:   config,
		alloc:    alloc,
		pool:     pool,
		heap:     heap.New(log, alloc, pool),
		registry: registry,
	}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Allocator() *storage.Allocator {
	return e.alloc
}

func (e *Engine) Pool() *pager.BufferPool {
	return e.pool
}

func (e *Engine) Heap() *heap.Heap {
	return e.heap
}

// Metrics is the registry holding the buffer pool counters.
func (e *Engine) Metrics() *prometheus.Registry {
	return e.registry
}

// Shutdown writes every dirty page back and saves the allocator state.
// Calling it again is a no-op.
func (e *Engine) Shutdown() error {
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return nil
	}

	if err := e.pool.FlushAll(); err != nil {
		e.log.WithError(err).Error("could not flush buffer pool")
		return err
	}
	if err := e.alloc.SaveState(); err != nil {
		e.log.WithError(err).Error("could not save allocator state")
		return err
	}

	e.closed = true
	e.log.Infof("storage engine stopped [DataDir: %s]", e.config.DataDir)

	return nil
}
