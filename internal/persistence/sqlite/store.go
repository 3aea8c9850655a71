// Package sqlite is a modernc.org/sqlite-backed implementation of
// persistence.Gateway. It uses the pure-Go driver so the daemon has no
// cgo dependency, and stores conversation history and event logs as JSON
// blobs rather than a normalized schema: a single process owns the store
// and there is no cross-table query need beyond load-by-callId.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
	"github.com/agentplexus/voicebridge/internal/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_id TEXT PRIMARY KEY,
	carrier_call_sid TEXT,
	direction TEXT NOT NULL,
	from_number TEXT,
	to_number TEXT,
	voice TEXT,
	provider TEXT,
	system_instructions TEXT,
	call_instructions TEXT,
	started_at TEXT,
	ended_at TEXT,
	duration_seconds REAL,
	status TEXT NOT NULL,
	error_message TEXT,
	conversation_history TEXT NOT NULL DEFAULT '[]',
	carrier_events TEXT NOT NULL DEFAULT '[]',
	provider_events TEXT NOT NULL DEFAULT '[]',
	pending_context_request TEXT,
	pending_resume_context TEXT NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed persistence.Gateway.
type Store struct {
	db    *sql.DB
	retry *resilience.RetryConfig
}

// Open opens (creating if necessary) a SQLite database file at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2 // a storage failure is retried once before surfacing

	return &Store{db: db, retry: retry}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ persistence.Gateway = (*Store)(nil)

// CreateCall implements persistence.Gateway.
func (s *Store) CreateCall(ctx context.Context, call *callstate.Call) error {
	history, _ := json.Marshal(call.ConversationHistory)
	carrierEvents, _ := json.Marshal(call.CarrierEvents)
	providerEvents, _ := json.Marshal(call.ProviderEvents)

	return s.retriedWrite(ctx, "create_call", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO calls (
				call_id, carrier_call_sid, direction, from_number, to_number, voice, provider,
				system_instructions, call_instructions, started_at, status,
				conversation_history, carrier_events, provider_events
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			call.CallID, call.CarrierCallSid, call.Direction, call.FromNumber, call.ToNumber, call.Voice, call.Provider,
			call.SystemInstructions, call.CallInstructions, call.StartedAt.Format(time.RFC3339), call.Status,
			string(history), string(carrierEvents), string(providerEvents),
		)
		return err
	})
}

// MarkInProgress implements persistence.Gateway.
func (s *Store) MarkInProgress(ctx context.Context, callID string) error {
	return s.retriedWrite(ctx, "mark_in_progress", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE calls SET status = ? WHERE call_id = ?`, callstate.StatusInProgress, callID)
		return err
	})
}

// SetCarrierCallSid implements persistence.Gateway.
func (s *Store) SetCarrierCallSid(ctx context.Context, callID, callSid string) error {
	return s.retriedWrite(ctx, "set_carrier_call_sid", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE calls SET carrier_call_sid = ? WHERE call_id = ?`, callSid, callID)
		return err
	})
}

// GetCall implements persistence.Gateway.
func (s *Store) GetCall(ctx context.Context, callID string) (*callstate.Call, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT call_id, carrier_call_sid, direction, from_number, to_number, voice, provider,
			system_instructions, call_instructions, started_at, ended_at,
			duration_seconds, status, error_message,
			conversation_history, carrier_events, provider_events,
			pending_context_request, pending_resume_context
		FROM calls WHERE call_id = ?
	`, callID)

	var call callstate.Call
	var carrierCallSid sql.NullString
	var startedAt, endedAt sql.NullString
	var durationSeconds sql.NullFloat64
	var errorMessage sql.NullString
	var history, carrierEvents, providerEvents string
	var pendingContextRequest sql.NullString
	var pendingResumeContext sql.NullString

	err := row.Scan(
		&call.CallID, &carrierCallSid, &call.Direction, &call.FromNumber, &call.ToNumber, &call.Voice, &call.Provider,
		&call.SystemInstructions, &call.CallInstructions, &startedAt, &endedAt,
		&durationSeconds, &call.Status, &errorMessage,
		&history, &carrierEvents, &providerEvents,
		&pendingContextRequest, &pendingResumeContext,
	)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get call: %w", err)
	}

	call.CarrierCallSid = carrierCallSid.String
	if startedAt.Valid {
		call.StartedAt, _ = time.Parse(time.RFC3339, startedAt.String)
	}
	if endedAt.Valid {
		call.EndedAt, _ = time.Parse(time.RFC3339, endedAt.String)
	}
	call.DurationSeconds = durationSeconds.Float64
	call.ErrorMessage = errorMessage.String
	call.PendingResumeContext = pendingResumeContext.String

	json.Unmarshal([]byte(history), &call.ConversationHistory)
	json.Unmarshal([]byte(carrierEvents), &call.CarrierEvents)
	json.Unmarshal([]byte(providerEvents), &call.ProviderEvents)
	if pendingContextRequest.Valid && pendingContextRequest.String != "" {
		var req callstate.PendingContextRequest
		if err := json.Unmarshal([]byte(pendingContextRequest.String), &req); err == nil {
			call.PendingContextRequest = &req
		}
	}

	return &call, nil
}

// SetPendingContextRequest implements persistence.Gateway.
func (s *Store) SetPendingContextRequest(ctx context.Context, callID string, req *callstate.PendingContextRequest) error {
	var encoded sql.NullString
	if req != nil {
		b, _ := json.Marshal(req)
		encoded = sql.NullString{String: string(b), Valid: true}
	}
	return s.retriedWrite(ctx, "set_pending_context_request", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE calls SET pending_context_request = ? WHERE call_id = ?`, encoded, callID)
		return err
	})
}

// SetPendingResumeContext implements persistence.Gateway.
func (s *Store) SetPendingResumeContext(ctx context.Context, callID, text string) error {
	return s.retriedWrite(ctx, "set_pending_resume_context", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE calls SET pending_resume_context = ? WHERE call_id = ?`, text, callID)
		return err
	})
}

// UpdateConversationHistory implements persistence.Gateway.
func (s *Store) UpdateConversationHistory(ctx context.Context, callID string, history []callstate.Message) error {
	encoded, _ := json.Marshal(history)
	return s.retriedWrite(ctx, "update_conversation_history", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE calls SET conversation_history = ? WHERE call_id = ?`, string(encoded), callID)
		return err
	})
}

// Finalize implements persistence.Gateway.
func (s *Store) Finalize(ctx context.Context, callID string, in persistence.FinalizeInput) error {
	history, _ := json.Marshal(in.ConversationHistory)
	carrierEvents, _ := json.Marshal(in.CarrierEvents)
	providerEvents, _ := json.Marshal(in.ProviderEvents)

	return s.retriedWrite(ctx, "finalize", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE calls SET
				ended_at = ?, duration_seconds = ?, status = ?, error_message = ?,
				conversation_history = ?, carrier_events = ?, provider_events = ?
			WHERE call_id = ?
		`,
			in.EndedAt, in.DurationSeconds, in.Status, in.ErrorMessage,
			string(history), string(carrierEvents), string(providerEvents),
			callID,
		)
		return err
	})
}

// retriedWrite wraps a write in the resilience package's retry helper: a
// storage failure is logged and retried once rather than treated as
// fatal to the call in progress. isRetryable is nil so every failure
// qualifies, since there is no narrower signal to discriminate on here,
// only the driver's opaque error.
func (s *Store) retriedWrite(ctx context.Context, operation string, fn func() error) error {
	err := resilience.Retry(fn, s.retry, nil)
	observability.RecordPersistenceWrite(operation, err == nil)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", operation, err)
	}
	return nil
}
