package messages

import "time"

// StatusChanged is published for every ledger append so downstream systems
// (customer service, reporting) can follow the fulfillment lifecycle without
// polling the database.
type StatusChanged struct {
	SubjectID   string    `json:"subject_id"`
	SubjectType string    `json:"subject_type"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}
