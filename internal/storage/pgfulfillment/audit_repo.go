package pgfulfillment

import (
	"context"

	"github.com/pkg/errors"

	"github.com/visionvation/fulfillment/internal/models"
)

// LogAPICall records one external call. Audit rows are never read by the
// pipeline, only by operators.
func (s *Storage) LogAPICall(ctx context.Context, service, endpoint, relatedID, requestPayload, responseBody string, statusCode int, isSuccess bool) error {
	var reqArg, respArg *string
	if requestPayload != "" {
		reqArg = &requestPayload
	}
	if responseBody != "" {
		respArg = &responseBody
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO api_calls (service, endpoint, related_id, request_payload, response_body, status_code, is_success)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, service, endpoint, relatedID, reqArg, respArg, statusCode, isSuccess)
	return errors.Wrap(err, "insert api call")
}

// APICallsByRelatedID returns the audit trail of external calls made for one
// subject, newest first.
func (s *Storage) APICallsByRelatedID(ctx context.Context, relatedID string) ([]*models.AuditRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, service, endpoint, related_id, request_payload, response_body, status_code, is_success, created_at
FROM api_calls
WHERE related_id = $1
ORDER BY created_at DESC, id DESC
`, relatedID)
	if err != nil {
		return nil, errors.Wrap(err, "select api calls")
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Service, &rec.Endpoint, &rec.RelatedID,
			&rec.RequestPayload, &rec.ResponseBody, &rec.StatusCode, &rec.IsSuccess, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan api call")
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// LogProcessFailure records a failure that needs manual intervention, such as
// retry exhaustion or a content-validation mismatch.
func (s *Storage) LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error {
	var payloadArg *string
	if payload != "" {
		payloadArg = &payload
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO process_failures (related_id, process_name, details, payload)
VALUES ($1, $2, $3, $4)
`, relatedID, processName, details, payloadArg)
	return errors.Wrap(err, "insert process failure")
}
