package ingestion

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jeovahfialho/cctool/internal/domain"
)

// WorkerPool normalizes several trade history files concurrently. Files
// share no state, only the merged result needs ordering.
type WorkerPool struct {
	workers     int
	normalizers []Normalizer
	jobQueue    chan Job
	wg          sync.WaitGroup
}

type Job struct {
	Index    int
	FilePath string
	Result   chan<- JobResult
}

// JobResult holds the canonical, not yet aggregated, trades of one file.
type JobResult struct {
	Index    int
	FilePath string
	Exchange string
	Trades   []domain.Trade
	Error    error
}

func NewWorkerPool(workers int, normalizers ...Normalizer) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if len(normalizers) == 0 {
		normalizers = DefaultNormalizers()
	}
	return &WorkerPool{
		workers:     workers,
		normalizers: normalizers,
		jobQueue:    make(chan Job, workers*2),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
}

// Submit queues job, giving up when ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.jobQueue <- job:
		return nil
	}
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}

			result := wp.processFile(job.FilePath)
			result.Index = job.Index
			job.Result <- result
		}
	}
}

func (wp *WorkerPool) processFile(filePath string) JobResult {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return JobResult{
			FilePath: filePath,
			Error:    fmt.Errorf("error opening file: %w", err),
		}
	}

	parsed, err := Load(data, wp.normalizers...)
	if err != nil {
		return JobResult{
			FilePath: filePath,
			Exchange: parsed.Exchange,
			Error:    err,
		}
	}

	return JobResult{
		FilePath: filePath,
		Exchange: parsed.Exchange,
		Trades:   parsed.Trades,
	}
}

// LoadFiles normalizes files with the given number of workers and returns
// the aggregate trades of all files, sorted by timestamp. The per-file
// results are returned in argument order. Any failed file fails the load.
func LoadFiles(ctx context.Context, workers int, files ...string) ([]domain.Trade, []JobResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	pool := NewWorkerPool(workers)
	pool.Start(ctx)

	results := make(chan JobResult, len(files))
	go func() {
		defer pool.Stop()
		for i, file := range files {
			if err := pool.Submit(ctx, Job{Index: i, FilePath: file, Result: results}); err != nil {
				return
			}
		}
	}()

	ordered := make([]JobResult, len(files))
	for range files {
		select {
		case result := <-results:
			ordered[result.Index] = result
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	var canonical []domain.Trade
	for _, result := range ordered {
		if result.Error != nil {
			return nil, ordered, fmt.Errorf("%s: %w", result.FilePath, result.Error)
		}
		canonical = append(canonical, result.Trades...)
	}

	return Aggregate(canonical), ordered, nil
}
