// Package journal captures the messages a session sends and receives into a
// lode dataset, partitioned by day, session and channel.
//
// Records accumulate in memory and are written in batches when a count or
// interval trigger fires. A failed write keeps the batch for the next
// trigger; records are never dropped.
package journal

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
)

// Config configures a Journal.
type Config struct {
	// FlushCount triggers a flush after N records accumulate.
	// Zero disables count-based flush.
	FlushCount int
	// FlushInterval triggers a flush every interval.
	// Zero disables interval-based flush.
	FlushInterval time.Duration
	Logger        *log.Logger
	Metrics       *metrics.Collector
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	FlushTriggerCount    FlushTrigger = "count"
	FlushTriggerInterval FlushTrigger = "interval"
	FlushTriggerClose    FlushTrigger = "close"
)

// ErrInvalidConfig is returned when neither flush trigger is set.
var ErrInvalidConfig = errors.New("invalid journal config: at least one of FlushCount or FlushInterval must be set")

// Journal buffers records and writes them to a dataset.
//
// mu guards the buffer; flushMu serializes writes so the interval
// goroutine and a count trigger never write concurrently.
type Journal struct {
	ds      lode.Dataset
	config  Config
	logger  *log.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	buffer  []Record
	flushes map[FlushTrigger]int64
	stopped bool

	flushMu sync.Mutex

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a journal writing to ds.
func New(ds lode.Dataset, config Config) (*Journal, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrInvalidConfig
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	j := &Journal{
		ds:      ds,
		config:  config,
		logger:  logger.WithComponent("journal"),
		metrics: config.Metrics,
		buffer:  make([]Record, 0, 128),
		flushes: make(map[FlushTrigger]int64),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go j.intervalLoop()
	} else {
		close(j.done)
	}
	return j, nil
}

// Append buffers a copy of r and flushes when the count trigger is
// reached. A nil journal discards the record.
func (j *Journal) Append(ctx context.Context, r Record) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return errors.New("journal closed")
	}
	r.Raw = slices.Clone(r.Raw)
	j.buffer = append(j.buffer, r)
	shouldFlush := j.config.FlushCount > 0 && len(j.buffer) >= j.config.FlushCount
	j.mu.Unlock()

	if shouldFlush {
		return j.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes every buffered record.
func (j *Journal) Flush(ctx context.Context) error {
	return j.flush(ctx, FlushTriggerClose)
}

// flush swaps the buffer under mu, writes outside it and restores the batch
// ahead of newer records on failure.
func (j *Journal) flush(ctx context.Context, trigger FlushTrigger) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.buffer
	if len(batch) == 0 {
		j.mu.Unlock()
		return nil
	}
	j.flushes[trigger]++
	j.buffer = make([]Record, 0, 128)
	j.mu.Unlock()

	records := make([]any, len(batch))
	for i := range batch {
		records[i] = batch[i].toMap()
	}
	if _, err := j.ds.Write(ctx, records, lode.Metadata{}); err != nil {
		j.mu.Lock()
		j.buffer = append(batch, j.buffer...)
		j.mu.Unlock()
		j.metrics.IncJournalWriteFailure()
		err = wrapStorage("write", err)
		j.logger.Warn("journal flush failed", map[string]any{
			"trigger": string(trigger),
			"records": len(batch),
			"error":   err.Error(),
		})
		return err
	}
	j.metrics.IncJournalWriteSuccess()
	j.logger.Debug("journal flush", map[string]any{
		"trigger": string(trigger),
		"records": len(batch),
	})
	return nil
}

// Pending returns the number of buffered records.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// FlushTriggerStats returns how many flushes each trigger caused.
func (j *Journal) FlushTriggerStats() map[FlushTrigger]int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[FlushTrigger]int64{
		FlushTriggerCount:    j.flushes[FlushTriggerCount],
		FlushTriggerInterval: j.flushes[FlushTriggerInterval],
		FlushTriggerClose:    j.flushes[FlushTriggerClose],
	}
}

// Close stops the interval goroutine and flushes what is buffered.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.stopCh)
	}
	j.mu.Unlock()
	<-j.done
	return j.Flush(context.Background())
}

func (j *Journal) intervalLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// errors are logged by flush and retried on the next tick
			_ = j.flush(context.Background(), FlushTriggerInterval)
		case <-j.stopCh:
			return
		}
	}
}
