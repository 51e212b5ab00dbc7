package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/eavstore/pkg/patch"
)

const (
	// DefaultCheckpointInterval is how often checkpoints are written
	DefaultCheckpointInterval = 10 * time.Minute
)

// SnapshotFunc passes the full current state to write and returns write's
// error. It runs on the checkpointer's goroutine. The owner of the state must
// keep writers out until write returns: a patch journaled between the
// snapshot and the checkpoint record would precede the checkpoint without
// being in it, and recovery would drop it.
type SnapshotFunc func(write func(patch.Patch) error) error

// Checkpointer writes periodic checkpoints in the background
type Checkpointer struct {
	journal  *Journal
	interval time.Duration
	snapshot SnapshotFunc
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewCheckpointer creates a checkpointer for j. A zero interval means
// DefaultCheckpointInterval.
func NewCheckpointer(j *Journal, interval time.Duration, snapshot SnapshotFunc, logger zerolog.Logger) *Checkpointer {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Checkpointer{
		journal:  j,
		interval: interval,
		snapshot: snapshot,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the background loop
func (c *Checkpointer) Start() {
	go c.run()
}

// Stop stops the loop and waits for it to exit. It does not write a final
// checkpoint.
func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Checkpoint(); err != nil {
				c.logger.Error().Err(err).Msg("Checkpoint failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint takes a snapshot and writes it as a checkpoint record
func (c *Checkpointer) Checkpoint() (uint64, error) {
	start := time.Now()

	var seq uint64
	var instructions int
	err := c.snapshot(func(p patch.Patch) error {
		instructions = len(p)
		var err error
		seq, err = c.journal.Checkpoint(p)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("checkpoint failed: %w", err)
	}

	c.logger.Info().
		Uint64("seq", seq).
		Int("instructions", instructions).
		Dur("duration", time.Since(start)).
		Msg("Checkpoint written")
	return seq, nil
}
