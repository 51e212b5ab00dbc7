// Package server implements the gRPC replication service over an EAV
// database and a pair of replicated stores
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/eavstore/internal/logger"
	"github.com/nainya/eavstore/internal/metrics"
	"github.com/nainya/eavstore/pkg/diff"
	"github.com/nainya/eavstore/pkg/eav"
	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/journal"
	"github.com/nainya/eavstore/pkg/patch"
	"github.com/nainya/eavstore/pkg/replica"
	"github.com/nainya/eavstore/pkg/wire"
)

// Options configures a Server. Every field is optional.
type Options struct {
	// Journal receives every applied patch; nil disables durability
	Journal *journal.Journal

	// SyncEveryPatch fsyncs the journal after each ApplyPatch
	SyncEveryPatch bool

	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Server implements ReplicationServer
type Server struct {
	// mu guards db: the database allows concurrent readers but no writer
	// alongside them
	mu sync.RWMutex
	db *eav.Database

	// store synchronizes itself
	store *replica.Store

	journal        *journal.Journal
	syncEveryPatch bool

	metrics   *metrics.Metrics
	log       *logger.Logger
	startTime time.Time
}

var _ ReplicationServer = (*Server)(nil)

// NewServer serves db and store. Nil arguments are replaced by empty ones.
func NewServer(db *eav.Database, store *replica.Store, opts Options) *Server {
	if db == nil {
		db = eav.New()
	}
	if store == nil {
		store = replica.NewStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Server{
		db:             db,
		store:          store,
		journal:        opts.Journal,
		syncEveryPatch: opts.SyncEveryPatch,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		startTime:      time.Now(),
	}
}

// Recover replays the journal into the database. Call it once, before
// serving, on an empty database.
func (s *Server) Recover() (*journal.RecoveryStats, error) {
	if s.journal == nil {
		return &journal.RecoveryStats{}, nil
	}
	start := time.Now()

	s.mu.Lock()
	stats, err := s.journal.Recover(s.db)
	dbStats := s.db.Stats()
	s.mu.Unlock()

	if err != nil {
		return stats, fmt.Errorf("failed to recover journal: %w", err)
	}
	s.metrics.UpdateDbStats(dbStats)
	s.log.LogRecovery(stats.TotalRecords, stats.ReplayedPatches, stats.ReplayedInstructions,
		stats.LastCheckpointSeq, time.Since(start))
	return stats, nil
}

// Snapshot returns the database state as a patch under the read lock
func (s *Server) Snapshot() (patch.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Patch(), nil
}

// WithSnapshot passes the database state to fn and holds the read lock until
// fn returns. apply journals under the write lock, so no patch reaches the
// journal while fn runs. It is the checkpointer's snapshot source.
func (s *Server) WithSnapshot(fn func(patch.Patch) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.db.Patch())
}

// Checkpoint writes the current state to the journal as a checkpoint record
func (s *Server) Checkpoint() (uint64, error) {
	if s.journal == nil {
		return 0, errors.New("server: no journal configured")
	}
	var seq uint64
	err := s.WithSnapshot(func(p patch.Patch) error {
		var err error
		seq, err = s.journal.Checkpoint(p)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.RecordJournal(journal.KindCheckpoint.String(), seq)
	return seq, nil
}

// View runs fn with shared access to the database
func (s *Server) View(fn func(db *eav.Database)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.db)
}

// Store returns the replicated stores
func (s *Server) Store() *replica.Store {
	return s.store
}

// Uptime returns how long the server has existed
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ========== Patch Operations ==========

func (s *Server) ApplyPatch(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error) {
	start := time.Now()

	// Decode fully before touching the database so a malformed stream
	// changes nothing
	p, err := patch.Decode(req.GetValue())
	if err != nil {
		s.metrics.RecordPatch(nil, err, time.Since(start))
		return nil, toStatus(err, "failed to decode patch")
	}

	applied, seq, err := s.apply(p)
	s.metrics.RecordPatch(p[:applied], err, time.Since(start))
	s.log.LogPatchApplied("grpc", applied, seq, time.Since(start), err)
	if err != nil {
		return nil, toStatus(err, "failed to apply patch")
	}
	return wrapperspb.UInt32(uint32(applied)), nil
}

// apply applies p in order under the write lock and journals exactly the
// instructions that took effect
func (s *Server) apply(p patch.Patch) (int, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	var applyErr error
	for i, in := range p {
		if err := in.ApplyTo(s.db); err != nil {
			applyErr = fmt.Errorf("instruction %d (%s): %w", i, in.Opcode(), err)
			break
		}
		applied++
	}

	var seq uint64
	if s.journal != nil && applied > 0 {
		var err error
		if seq, err = s.journal.Append(p[:applied]); err != nil {
			return applied, 0, errors.Join(applyErr, fmt.Errorf("journal append: %w", err))
		}
		s.metrics.RecordJournal(journal.KindPatch.String(), seq)
		if s.syncEveryPatch {
			if err := s.journal.Fsync(); err != nil {
				return applied, seq, errors.Join(applyErr, fmt.Errorf("journal sync: %w", err))
			}
		}
	}
	s.metrics.UpdateDbStats(s.db.Stats())
	return applied, seq, applyErr
}

func (s *Server) ExportPatch(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	p, _ := s.Snapshot()
	data, err := p.MarshalBinary()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize patch: %v", err)
	}
	return wrapperspb.Bytes(data), nil
}

// ========== Store Operations ==========

func (s *Server) Publish(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	start := time.Now()

	var d diff.StoreDiff
	if err := d.UnmarshalBinary(req.GetValue()); err != nil {
		return nil, toStatus(err, "failed to decode diff")
	}
	err := d.ApplyTo(s.store)
	s.recordDiff("publish", d, start, err)
	if err != nil {
		return nil, toStatus(err, "failed to apply diff")
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Sync(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	start := time.Now()

	var snapshot diff.StoreDiff
	if err := snapshot.UnmarshalBinary(req.GetValue()); err != nil {
		return nil, toStatus(err, "failed to decode snapshot")
	}

	// Rebuild the caller's view, then diff it against ours
	theirs := replica.NewStore()
	if err := snapshot.ApplyTo(theirs); err != nil {
		return nil, toStatus(err, "invalid snapshot")
	}
	delta, err := diff.CompareStores(theirs, s.store)
	if err != nil {
		return nil, toStatus(err, "failed to compare stores")
	}

	data, err := delta.MarshalBinary()
	s.recordDiff("sync", delta, start, err)
	if err != nil {
		return nil, toStatus(err, "failed to serialize diff")
	}
	return wrapperspb.Bytes(data), nil
}

func (s *Server) recordDiff(direction string, d diff.StoreDiff, start time.Time, err error) {
	s.metrics.RecordDiff("references", len(d.References.Set), len(d.References.Deleted))
	s.metrics.RecordDiff("tags", len(d.Tags.Set), len(d.Tags.Deleted))
	s.metrics.UpdateStoreStats(s.store.References.Len(), s.store.Tags.Len())
	s.log.LogSync(direction,
		len(d.References.Set)+len(d.Tags.Set),
		len(d.References.Deleted)+len(d.Tags.Deleted),
		time.Since(start), err)
}

// toStatus maps input problems to InvalidArgument and everything else to
// Internal
func toStatus(err error, msg string) error {
	code := codes.Internal
	switch {
	case wire.IsDecodeError(err),
		errors.Is(err, ident.ErrValidation),
		errors.Is(err, diff.ErrInvalidDiff):
		code = codes.InvalidArgument
	}
	return status.Errorf(code, "%s: %v", msg, err)
}
