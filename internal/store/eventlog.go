package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jdray42/boswell/internal/claimerr"
)

// Event is one audit-trail entry: every status transition, tier change, and
// gatekeeper decision is recorded here for the event_log table.
type Event struct {
	ID        string
	ClaimID   string
	EventType string
	ActorID   string
	Timestamp time.Time
	Payload   map[string]interface{}
}

func insertEventTx(tx *sql.Tx, e Event) error {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return claimerr.InvalidErr("store.logEvent", err)
		}
	}
	_, err := tx.Exec(`
		INSERT INTO event_log (id, claim_id, event_type, actor_id, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, nullString(e.ClaimID), e.EventType, nullString(e.ActorID), e.Timestamp, string(payloadJSON))
	return err
}

// logEvent records an audit-trail event outside of a caller-owned
// transaction (used by background workers that are not already mid-write).
func (s *Store) logEvent(e Event) error {
	tx, unlock, err := s.db.Begin()
	if err != nil {
		return claimerr.UnavailableErr("store.logEvent", err)
	}
	defer unlock()
	if err := insertEventTx(tx, e); err != nil {
		tx.Rollback()
		return claimerr.UnavailableErr("store.logEvent", err)
	}
	return tx.Commit()
}

// EventsForClaim returns the audit trail for one claim, newest first.
func (s *Store) EventsForClaim(claimID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, claim_id, event_type, actor_id, timestamp, payload
		FROM event_log WHERE claim_id = ? ORDER BY timestamp DESC
	`, claimID)
	if err != nil {
		return nil, claimerr.UnavailableErr("store.EventsForClaim", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var claimIDVal, actorID sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &claimIDVal, &e.EventType, &actorID, &e.Timestamp, &payload); err != nil {
			return nil, claimerr.UnavailableErr("store.EventsForClaim", err)
		}
		e.ClaimID = claimIDVal.String
		e.ActorID = actorID.String
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
