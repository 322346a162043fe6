package model

import "time"

// Scan results.
const (
	ScanSuccess      = "success"
	ScanAlreadyUsed  = "already_used"
	ScanInvalidToken = "invalid_token"
	ScanInvalidDate  = "invalid_date"
	ScanNotFound     = "not_found"
	ScanError        = "error"
)

// ScanLog records one validation attempt.  Rows are inserted once and never
// updated or deleted.
type ScanLog struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	Method    string    `json:"method"`
	Result    string    `json:"result"`
	Reason    *string   `json:"reason,omitempty"`
	GateID    string    `json:"gateId"`
	ScannedAt time.Time `json:"scannedAt"`
}
