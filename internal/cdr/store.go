package cdr

import (
	"context"
	"database/sql"

	"callswitch/pkg/utils"
)

// Store persists terminal call records.
type Store interface {
	Insert(ctx context.Context, r Record) error
}

// PostgresStore writes records to the call_records table.
//
// Assumed schema:
//
//	CREATE TABLE call_records (
//	    call_id            TEXT PRIMARY KEY,
//	    sip_call_id        TEXT,
//	    caller_uri         TEXT,
//	    callee_uri         TEXT,
//	    callee_extension   TEXT,
//	    state              TEXT NOT NULL,
//	    start_time         TIMESTAMPTZ NOT NULL,
//	    answer_time        TIMESTAMPTZ,
//	    end_time           TIMESTAMPTZ,
//	    duration_seconds   BIGINT,
//	    termination_reason TEXT,
//	    media_mode         TEXT,
//	    recorded           BOOLEAN NOT NULL DEFAULT FALSE,
//	    recording_path     TEXT,
//	    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	const q = `
INSERT INTO call_records (
    call_id, sip_call_id, caller_uri, callee_uri, callee_extension,
    state, start_time, answer_time, end_time, duration_seconds,
    termination_reason, media_mode, recorded, recording_path
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (call_id) DO NOTHING
`
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			r.CallID,
			nullString(r.SIPCallID),
			nullString(r.CallerURI),
			nullString(r.CalleeURI),
			nullString(r.CalleeExtension),
			r.State,
			r.StartTime,
			r.AnswerTime,
			r.EndTime,
			r.DurationSeconds,
			nullString(r.TerminationReason),
			nullString(r.MediaMode),
			r.Recorded,
			nullString(r.RecordingPath),
		)
		return err
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
