package audit

import (
	"context"
	"sync"
	"time"
)

// AsyncOptions configures batching for AsyncStorage.
type AsyncOptions struct {
	BufferSize     int           // queued requests before falling back to direct writes
	BatchSize      int           // events per flush
	BatchTimeout   time.Duration // max wait for a partial batch
	StorageTimeout time.Duration // per-flush timeout
}

// AsyncStorage batches writes to an underlying Storage.
// Store still blocks until the batch holding its events is flushed,
// so callers observe the storage error. Queries go straight to the backend.
type AsyncStorage struct {
	next    Storage
	queue   chan pendingWrite
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	options AsyncOptions
}

type pendingWrite struct {
	events []Event
	result chan error
}

// NewAsyncStorage starts the batching worker. The returned func stops it,
// flushing whatever is queued.
func NewAsyncStorage(next Storage, opts AsyncOptions) (*AsyncStorage, func(context.Context) error) {
	if next == nil {
		panic("audit: storage cannot be nil")
	}

	if opts.BufferSize == 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout == 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	if opts.StorageTimeout == 0 {
		opts.StorageTimeout = 5 * time.Second
	}

	as := &AsyncStorage{
		next:    next,
		queue:   make(chan pendingWrite, opts.BufferSize),
		done:    make(chan struct{}),
		options: opts,
	}

	as.wg.Add(1)
	go as.worker()

	return as, as.Close
}

func (as *AsyncStorage) Store(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
	}

	select {
	case <-as.done:
		return ErrStorageNotAvailable
	default:
	}

	result := make(chan error, 1)
	select {
	case as.queue <- pendingWrite{events: events, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Buffer full: write directly so no entry is lost.
		return as.next.Store(ctx, events...)
	}
}

func (as *AsyncStorage) Query(ctx context.Context, criteria Criteria) ([]Event, error) {
	return as.next.Query(ctx, criteria)
}

func (as *AsyncStorage) worker() {
	defer as.wg.Done()

	batch := make([]Event, 0, as.options.BatchSize)
	waiting := make([]chan error, 0, as.options.BatchSize)
	ticker := time.NewTicker(as.options.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), as.options.StorageTimeout)
		defer cancel()

		err := as.next.Store(ctx, batch...)
		for _, ch := range waiting {
			ch <- err
		}

		clear(batch)
		clear(waiting)
		batch = batch[:0]
		waiting = waiting[:0]
	}

	for {
		select {
		case w := <-as.queue:
			batch = append(batch, w.events...)
			waiting = append(waiting, w.result)
			if len(batch) >= as.options.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-as.done:
			for {
				select {
				case w := <-as.queue:
					batch = append(batch, w.events...)
					waiting = append(waiting, w.result)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the worker after draining the queue.
func (as *AsyncStorage) Close(ctx context.Context) error {
	as.once.Do(func() { close(as.done) })

	finished := make(chan struct{})
	go func() {
		as.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
