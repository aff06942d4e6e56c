// Package persistence wires the SQL tables and the staging-layer JSON
// journals spec.md §6 names into one durability surface for the
// memory engine and the permission/stream registries.
package persistence

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/memory/journal"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/persistence/repo"
	"github.com/coreagent/platform/internal/platform/logger"
)

// Store bundles the gorm-backed repositories for the durable SQL
// tables with the on-disk journals backing the memory engine's
// staging tiers.
type Store struct {
	log *logger.Logger
	db  *gorm.DB

	Permission repo.PermissionRepo
	Streams    repo.ChatStreamRepo
	Memory     repo.MemoryRepo

	dataDir           string
	perceptualJournal *journal.Journal
	shortTermJournal  *journal.Journal
	promotionJournal  *journal.Journal
}

// New opens the three staging journals under dataDir and wires the
// SQL repositories against db.
func New(log *logger.Logger, db *gorm.DB, dataDir string) (*Store, error) {
	perceptualJournal, err := journal.New(dataDir, journal.PerceptualFile)
	if err != nil {
		return nil, err
	}
	shortTermJournal, err := journal.New(dataDir, journal.ShortTermFile)
	if err != nil {
		return nil, err
	}
	promotionJournal, err := journal.New(dataDir, journal.PromotionQueueFile)
	if err != nil {
		return nil, err
	}

	storeLog := log.With("component", "PersistenceStore")
	return &Store{
		log:               storeLog,
		db:                db,
		Permission:        repo.NewPermissionRepo(db, storeLog),
		Streams:           repo.NewChatStreamRepo(db, storeLog),
		Memory:            repo.NewMemoryRepo(db, storeLog),
		dataDir:           dataDir,
		perceptualJournal: perceptualJournal,
		shortTermJournal:  shortTermJournal,
		promotionJournal:  promotionJournal,
	}, nil
}

// SnapshotPerceptual, SnapshotShortTerm and SnapshotPromotionQueue
// persist a staging tier's full state. These layers have no SQL table
// of their own: the journal is their native durable form. Nothing in
// the app calls them on a transfer batch or at shutdown.
func (s *Store) SnapshotPerceptual(state any) error { return s.perceptualJournal.Write(state) }
func (s *Store) SnapshotShortTerm(state any) error  { return s.shortTermJournal.Write(state) }
func (s *Store) SnapshotPromotionQueue(state any) error {
	return s.promotionJournal.Write(state)
}

// LoadPerceptual, LoadShortTerm and LoadPromotionQueue read back a
// staging tier's journaled state; the app does not call them at
// startup. ok is false when no journal exists yet.
func (s *Store) LoadPerceptual(dest any) (bool, error) { return s.perceptualJournal.Read(dest) }
func (s *Store) LoadShortTerm(dest any) (bool, error)  { return s.shortTermJournal.Read(dest) }
func (s *Store) LoadPromotionQueue(dest any) (bool, error) {
	return s.promotionJournal.Read(dest)
}

// LongTermBatch is the unit of work written atomically for one
// consolidated long-term memory: its subject node, the edges it
// participates in, and its scalar bookkeeping row.
type LongTermBatch struct {
	ID    string               `json:"id"`
	Nodes []model.MemoryNode   `json:"nodes"`
	Edges []model.MemoryEdge   `json:"edges"`
	LTM   model.LongTermMemory `json:"ltm"`
}

const failedBatchPrefix = "longterm_failed_"

func failedBatchFile(id string) string {
	return fmt.Sprintf("%s%s.json", failedBatchPrefix, id)
}

// PersistLongTermBatch writes a batch's node/edge/long-term-memory rows
// in one transaction. On failure the batch is journaled under dataDir
// for ReplayFailedBatches to retry on the next startup, satisfying
// spec.md §4.5.5's "persistence write failures fall back to an
// on-disk JSON journal... replayed on startup" for the SQL-backed
// long-term tier.
func (s *Store) PersistLongTermBatch(ctx context.Context, batch LongTermBatch) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch.Nodes {
			if err := s.Memory.UpsertNode(ctx, tx, &batch.Nodes[i]); err != nil {
				return err
			}
		}
		for i := range batch.Edges {
			if err := s.Memory.UpsertEdge(ctx, tx, &batch.Edges[i]); err != nil {
				return err
			}
		}
		return s.Memory.UpsertLongTermMemory(ctx, tx, &batch.LTM)
	})
	if err == nil {
		return nil
	}

	s.log.Error("long-term batch persistence failed, journaling for replay", "batch_id", batch.ID, "error", err)
	j, jerr := journal.New(s.dataDir, failedBatchFile(batch.ID))
	if jerr != nil {
		return fmt.Errorf("persistence: journal failed batch %s: %w (original error: %v)", batch.ID, jerr, err)
	}
	if werr := j.Write(batch); werr != nil {
		return fmt.Errorf("persistence: journal failed batch %s: %w (original error: %v)", batch.ID, werr, err)
	}
	return fmt.Errorf("persistence: batch %s journaled after write failure: %w", batch.ID, err)
}

// ReplayFailedBatches scans dataDir for journaled long-term batches
// left over from a previous run, retries each, and clears the journal
// entry on success. Batches that fail again are left journaled.
func (s *Store) ReplayFailedBatches(ctx context.Context) error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, failedBatchPrefix) {
			continue
		}

		j, err := journal.New(s.dataDir, name)
		if err != nil {
			return err
		}
		var batch LongTermBatch
		ok, err := j.Read(&batch)
		if err != nil {
			s.log.Error("failed to decode journaled batch, leaving in place", "file", name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := s.PersistLongTermBatch(ctx, batch); err != nil {
			s.log.Warn("replay of journaled batch failed again", "file", name, "error", err)
			continue
		}
		if err := j.Clear(); err != nil {
			s.log.Warn("failed to clear replayed batch journal", "file", name, "error", err)
		}
	}
	return nil
}
