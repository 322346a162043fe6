// Package queue defines the message payloads exchanged over RabbitMQ and
// the publisher and audit consumer that move them.
package queue

// Queue names.  All queues are durable and fed through the default
// exchange with the queue name as routing key.
const (
	TicketIssuedQueue   = "ticket.issued"
	EntryValidatedQueue = "entry.validated"
	ScanAlertQueue      = "scan.alert"
)

// TicketIssuedEvent is published after a booking commits.  It carries
// enough to log or notify without reading the primary database, and never
// the QR or verification credentials.
type TicketIssuedEvent struct {
	TicketID      string  `json:"ticket_id"`
	BookingID     string  `json:"booking_id"`
	VisitDate     string  `json:"visit_date"`
	TicketSource  string  `json:"ticket_source"`
	PaymentMode   string  `json:"payment_mode"`
	PaymentStatus string  `json:"payment_status"`
	TotalAmount   float64 `json:"total_amount"`
	ItemCount     int     `json:"item_count"`
	IssuedAt      string  `json:"issued_at"`
}

// EntryValidatedEvent is published after a ticket is consumed at a gate.
type EntryValidatedEvent struct {
	TicketID    string `json:"ticket_id"`
	Method      string `json:"method"`
	GateID      string `json:"gate_id"`
	ValidatedAt string `json:"validated_at"`
}

// ScanAlertEvent tells operators that a scan log row could not be written.
// The visitor-facing decision has already been made when this is sent.
type ScanAlertEvent struct {
	TicketID   string `json:"ticket_id"`
	Method     string `json:"method"`
	Result     string `json:"result"`
	GateID     string `json:"gate_id"`
	Error      string `json:"error"`
	OccurredAt string `json:"occurred_at"`
}
