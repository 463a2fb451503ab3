// Package parallel provides the worker pool that executes host-side compute
// dispatches.
//
// A dispatch of N invocations is split into contiguous chunks and spread
// across per-worker queues. Idle workers steal chunks from their neighbours,
// which keeps skewed workloads (one hot bucket, many empty ones) balanced.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// minChunk is the smallest number of invocations handed to a worker as one
// unit. Dispatches smaller than this run inline on the caller's goroutine.
const minChunk = 256

// WorkerPool is a pool of goroutines executing dispatch chunks.
//
// Thread safety: WorkerPool is safe for concurrent use. Concurrent
// dispatches interleave their chunks; each call still waits only for its own.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// queues holds one buffered queue per worker.
	queues []chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to exit.
	wg sync.WaitGroup

	// running reports whether the pool accepts work.
	running atomic.Bool
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			run(fn)
		default:
			if fn := p.steal(id); fn != nil {
				run(fn)
				continue
			}
			select {
			case <-p.done:
				drain(own)
				return
			case fn := <-own:
				run(fn)
			}
		}
	}
}

func run(fn func()) {
	if fn != nil {
		fn()
	}
}

func drain(queue chan func()) {
	for {
		select {
		case fn := <-queue:
			run(fn)
		default:
			return
		}
	}
}

// steal takes one pending item from another worker's queue, or returns nil.
func (p *WorkerPool) steal(self int) func() {
	for i := 1; i < p.workers; i++ {
		victim := (self + i) % p.workers
		select {
		case fn := <-p.queues[victim]:
			return fn
		default:
		}
	}
	return nil
}

// ExecuteAll runs every item and waits for all of them to finish.
// Items submitted while the pool is shutting down run on the caller's
// goroutine, so ExecuteAll never drops work.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			run(fn)
		}
		return
	}

	var pending sync.WaitGroup
	pending.Add(len(work))

	for i, fn := range work {
		item := fn
		wrapped := func() {
			defer pending.Done()
			run(item)
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}

	pending.Wait()
}

// Dispatch invokes fn once for every invocation index in [0, n) and returns
// when all invocations have completed. Invocation order is unspecified.
func (p *WorkerPool) Dispatch(n uint32, fn func(invocation uint32)) {
	if n == 0 {
		return
	}
	if n <= minChunk || p.workers == 1 {
		for i := uint32(0); i < n; i++ {
			fn(i)
		}
		return
	}

	chunk := ChunkSize(n, p.workers)
	work := make([]func(), 0, (n+chunk-1)/chunk)
	for lo := uint32(0); lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		start := lo
		work = append(work, func() {
			for i := start; i < hi; i++ {
				fn(i)
			}
		})
	}
	p.ExecuteAll(work)
}

// ChunkSize returns the number of invocations per work item for a dispatch
// of n invocations over the given number of workers: roughly four items per
// worker, never below minChunk.
func ChunkSize(n uint32, workers int) uint32 {
	if workers <= 0 {
		workers = 1
	}
	per := (n + uint32(workers)*4 - 1) / (uint32(workers) * 4) //nolint:gosec // worker counts are small
	return max(per, minChunk)
}

// Close stops accepting work, runs whatever is still queued and stops the
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
