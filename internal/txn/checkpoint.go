package txn

import (
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/wal"
)

// Checkpointer periodically flushes durable pages and truncates the WAL
// prefix they cover, on a cron schedule.
type Checkpointer struct {
	mu      sync.Mutex
	cache   flusher
	log     *wal.WAL
	cr      *cron.Cron
	entry   cron.EntryID
	lastLSN pager.LSN
	lastTok uuid.UUID
}

// flusher is the subset of *pager.Cache a Checkpointer needs.
type flusher interface {
	FlushAll() error
}

// NewCheckpointer creates a Checkpointer; call Start to begin the schedule.
func NewCheckpointer(cache flusher, log *wal.WAL) *Checkpointer {
	return &Checkpointer{
		cache: cache,
		log:   log,
		cr:    cron.New(cron.WithSeconds()),
	}
}

// Start schedules periodic checkpoints at the given cron spec, a 6-field
// expression whose first field is seconds (e.g. "*/30 * * * * *"), parsed
// by robfig/cron/v3.
func (c *Checkpointer) Start(spec string) error {
	id, err := c.cr.AddFunc(spec, func() { _, _ = c.RunOnce() })
	if err != nil {
		return err
	}
	c.entry = id
	c.cr.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight checkpoint.
func (c *Checkpointer) Stop() {
	ctx := c.cr.Stop()
	<-ctx.Done()
}

// RunOnce performs a single checkpoint: flush every durable dirty page,
// write a checkpoint record, then truncate the WAL prefix it covers. Each
// run is stamped with a fresh token so operators can correlate a
// checkpoint's log line with the LSN it produced, even across restarts
// where the LSN counter alone is ambiguous.
func (c *Checkpointer) RunOnce() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok := uuid.New()
	if err := c.cache.FlushAll(); err != nil {
		return uuid.Nil, err
	}
	lsn, err := c.log.Checkpoint(c.log.DurableLSN())
	if err != nil {
		return uuid.Nil, err
	}
	c.lastLSN = lsn
	c.lastTok = tok
	return tok, c.log.Truncate()
}

// LastCheckpointLSN reports the LSN of the most recent checkpoint.
func (c *Checkpointer) LastCheckpointLSN() pager.LSN {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLSN
}

// LastCheckpointToken reports the correlation token of the most recent
// checkpoint run.
func (c *Checkpointer) LastCheckpointToken() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTok
}
