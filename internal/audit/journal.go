// Package audit keeps an optional SQLite journal of merge outcomes and stage
// triggers. It never stores credentials or pipeline status.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"mergeboard/internal/merge"
	"mergeboard/internal/security"
	"mergeboard/internal/trigger"
)

// DefaultLimit is used by the Recent* queries when limit is not positive.
const DefaultLimit = 50

// Journal records merge batches and stage triggers in SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at dbPath.
func Open(dbPath string) (*Journal, error) {
	if err := security.EnsureParentDir(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS merge_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			project_id INTEGER NOT NULL,
			request_id INTEGER NOT NULL,
			iid INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			already_merged INTEGER NOT NULL,
			error_kind TEXT,
			error_message TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_merge_project_recorded
			ON merge_outcomes(project_id, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS stage_triggers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			stage TEXT NOT NULL,
			mode TEXT,
			ref TEXT,
			pipeline_id INTEGER,
			succeeded INTEGER NOT NULL,
			error_kind TEXT,
			error_message TEXT,
			triggered_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_project_triggered
			ON stage_triggers(project_id, triggered_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// RecordMergeBatch stores every outcome of result in one transaction.
func (j *Journal) RecordMergeBatch(ctx context.Context, result merge.Result) error {
	recordedAt := result.FinishedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	ts := recordedAt.UTC().Format(time.RFC3339)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO merge_outcomes
		(batch_id, project_id, request_id, iid, succeeded, already_merged,
		 error_kind, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, out := range result.Outcomes {
		_, err := stmt.ExecContext(ctx,
			result.BatchID,
			result.ProjectID,
			out.RequestID,
			out.IID,
			out.Succeeded,
			out.AlreadyMerged,
			nullString(out.ErrorKind),
			nullString(out.Error),
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert merge outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge batch: %w", err)
	}
	return nil
}

// RecordTrigger stores one stage trigger attempt.
func (j *Journal) RecordTrigger(ctx context.Context, rec trigger.Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	var pipelineID sql.NullInt64
	if rec.PipelineID != 0 {
		pipelineID = sql.NullInt64{Int64: rec.PipelineID, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO stage_triggers
		(project_id, stage, mode, ref, pipeline_id, succeeded,
		 error_kind, error_message, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ProjectID,
		rec.Stage,
		nullString(rec.Mode),
		nullString(rec.Ref),
		pipelineID,
		rec.Succeeded,
		nullString(rec.ErrorKind),
		nullString(rec.Error),
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert stage trigger: %w", err)
	}
	return nil
}

// RecentMerges returns the newest merge outcomes, newest first. projectID 0
// means all projects.
func (j *Journal) RecentMerges(ctx context.Context, projectID int64, limit int) ([]MergeRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, batch_id, project_id, request_id, iid, succeeded,
		       already_merged, error_kind, error_message, recorded_at
		FROM merge_outcomes
		WHERE (? = 0 OR project_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`, projectID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge outcomes: %w", err)
	}
	defer rows.Close()

	records := []MergeRecord{}
	for rows.Next() {
		record, err := scanMergeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merge outcome: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// RecentTriggers returns the newest stage triggers, newest first. projectID
// 0 means all projects.
func (j *Journal) RecentTriggers(ctx context.Context, projectID int64, limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, project_id, stage, mode, ref, pipeline_id, succeeded,
		       error_kind, error_message, triggered_at
		FROM stage_triggers
		WHERE (? = 0 OR project_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`, projectID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage triggers: %w", err)
	}
	defer rows.Close()

	records := []TriggerRecord{}
	for rows.Next() {
		record, err := scanTriggerRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage trigger: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMergeRecord(s scanner) (*MergeRecord, error) {
	var record MergeRecord
	var errorKind, errorMessage sql.NullString
	var recordedAt string

	err := s.Scan(
		&record.ID,
		&record.BatchID,
		&record.ProjectID,
		&record.RequestID,
		&record.IID,
		&record.Succeeded,
		&record.AlreadyMerged,
		&errorKind,
		&errorMessage,
		&recordedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ErrorKind = stringPtr(errorKind)
	record.ErrorMessage = stringPtr(errorMessage)
	record.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at timestamp: %w", err)
	}
	return &record, nil
}

func scanTriggerRecord(s scanner) (*TriggerRecord, error) {
	var record TriggerRecord
	var mode, ref, errorKind, errorMessage sql.NullString
	var pipelineID sql.NullInt64
	var triggeredAt string

	err := s.Scan(
		&record.ID,
		&record.ProjectID,
		&record.Stage,
		&mode,
		&ref,
		&pipelineID,
		&record.Succeeded,
		&errorKind,
		&errorMessage,
		&triggeredAt,
	)
	if err != nil {
		return nil, err
	}

	record.Mode = stringPtr(mode)
	record.Ref = stringPtr(ref)
	record.ErrorKind = stringPtr(errorKind)
	record.ErrorMessage = stringPtr(errorMessage)
	if pipelineID.Valid {
		id := pipelineID.Int64
		record.PipelineID = &id
	}
	record.TriggeredAt, err = time.Parse(time.RFC3339, triggeredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse triggered_at timestamp: %w", err)
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
