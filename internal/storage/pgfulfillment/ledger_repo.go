package pgfulfillment

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/visionvation/fulfillment/internal/models"
)

// AppendStatus inserts a new ledger row. It never updates an existing one.
func (s *Storage) AppendStatus(ctx context.Context, subjectID, subjectType, status, notes string) error {
	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO status_events (subject_id, subject_type, status, timestamp, notes)
VALUES ($1, $2, $3, now(), $4)
`, subjectID, subjectType, status, notesArg)
	return errors.Wrap(err, "append status")
}

// CurrentStatus returns the status of the latest ledger row for the subject,
// or "" when the subject has no rows.
func (s *Storage) CurrentStatus(ctx context.Context, subjectID, subjectType string) (string, error) {
	rows, err := s.db.Query(ctx, `
WITH latest AS (
  SELECT
    status,
    ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY timestamp DESC, id DESC) AS rn
  FROM status_events
  WHERE subject_id = $1 AND subject_type = $2
)
SELECT status FROM latest WHERE rn = 1
`, subjectID, subjectType)
	if err != nil {
		return "", errors.Wrap(err, "select current status")
	}
	defer rows.Close()

	if !rows.Next() {
		return "", rows.Err()
	}
	var status string
	if err := rows.Scan(&status); err != nil {
		return "", errors.Wrap(err, "scan status")
	}
	return status, nil
}

// ListStatusEvents returns the full ledger history for a subject, newest
// first.
func (s *Storage) ListStatusEvents(ctx context.Context, subjectID, subjectType string) ([]*models.StatusEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, subject_id, subject_type, status, timestamp, notes
FROM status_events
WHERE subject_id = $1 AND subject_type = $2
ORDER BY timestamp DESC, id DESC
`, subjectID, subjectType)
	if err != nil {
		return nil, errors.Wrap(err, "select status events")
	}
	defer rows.Close()

	var out []*models.StatusEvent
	for rows.Next() {
		var e models.StatusEvent
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.SubjectType, &e.Status, &ts, &e.Notes); err != nil {
			return nil, errors.Wrap(err, "scan status event")
		}
		e.Timestamp = ts
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
