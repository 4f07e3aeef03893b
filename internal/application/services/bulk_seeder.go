package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/waitingtimes/internal/domain/document"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
)

// BulkSeeder backfills a directory of historical scrape documents. Unlike
// IngestionService it keeps going when a file fails: read, validation and
// write failures are collected per file and the next file is processed.
type BulkSeeder struct {
	pipeline
}

// NewBulkSeeder creates a new bulk seeder
func NewBulkSeeder(
	store repositories.IngestionStore,
	gate *AdmissionGate,
	reconciler *Reconciler,
	writer *TransactionalWriter,
) *BulkSeeder {
	return &BulkSeeder{
		pipeline: pipeline{
			store:      store,
			gate:       gate,
			reconciler: reconciler,
			writer:     writer,
		},
	}
}

// Seed ingests every *.json file in dir in lexical order. Each file's base
// name without extension is its source job id. When wipeFirst is set, all
// ingestion tables are emptied before the first file.
//
// The returned error is reserved for failures that stop the whole batch:
// an unreadable directory, a failed wipe, or a cancelled context.
func (s *BulkSeeder) Seed(ctx context.Context, dir string, wipeFirst bool) (*entities.BatchReport, error) {
	files, err := listDocuments(dir)
	if err != nil {
		return nil, err
	}

	batch := &entities.BatchReport{
		Files:    len(files),
		Reports:  []entities.Report{},
		Skipped:  []entities.SeedSkip{},
		Failures: []entities.SeedFailure{},
	}

	if wipeFirst {
		if err := s.store.WipeAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to wipe ingestion tables: %w", err)
		}
		batch.Wiped = true
		log.Warn().Str("dir", dir).Msg("wiped all ingestion tables before seeding")
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		sourceJobID := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		logger := log.With().Str("file", file).Str("source_job_id", sourceJobID).Logger()

		fail := func(stage entities.SeedStage, err error) {
			batch.Failures = append(batch.Failures, entities.SeedFailure{
				File:        file,
				SourceJobID: sourceJobID,
				Stage:       stage,
				Error:       err.Error(),
			})
			logger.Warn().Err(err).Str("stage", string(stage)).Msg("skipping file")
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			fail(entities.SeedStageRead, err)
			continue
		}

		set, err := document.Normalize(raw)
		if err != nil {
			fail(entities.SeedStageValidate, err)
			continue
		}

		outcome, err := s.run(ctx, sourceJobID, set)
		if err != nil {
			fail(entities.SeedStageWrite, err)
			continue
		}

		if !outcome.Ingested() {
			batch.Skipped = append(batch.Skipped, entities.SeedSkip{File: file, Admission: *outcome.Rejection})
			logger.Info().Str("reason", string(outcome.Rejection.Reason)).Msg("file rejected by admission gate")
			continue
		}

		batch.Reports = append(batch.Reports, *outcome.Report)
		addCounts(&batch.Counts, outcome.Report.Counts)
		logger.Info().
			Int("file_index", i+1).
			Int("files", len(files)).
			Int("rows_inserted", outcome.Report.Counts.Total.Inserted).
			Msg("seeded file")
	}

	return batch, nil
}

func listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func addCounts(dst *entities.Counts, src entities.Counts) {
	dst.Total.Add(src.Total)
	dst.Jobs.Add(src.Jobs)
	dst.Procedures.Add(src.Procedures)
	dst.Institutions.Add(src.Institutions)
	dst.MaxAllowedDays.Add(src.MaxAllowedDays)
	dst.WaitingPeriods.Add(src.WaitingPeriods)
}
