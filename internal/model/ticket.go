package model

import "time"

// Ticket sources.
const (
	SourceOnline  = "ONLINE"
	SourceCounter = "COUNTER"
	SourceAdmin   = "ADMIN"
)

// Payment statuses.  Payments are recorded as already settled; PENDING
// exists for bookings whose settlement is confirmed later by staff.
const (
	PaymentPaid    = "PAID"
	PaymentPending = "PENDING"
)

// Entry methods, shared by Ticket.UsedVia and ScanLog.Method.
const (
	MethodQRToken        = "QR_TOKEN"
	MethodManualTicketID = "MANUAL_TICKET_ID"
)

// TicketItem is one line of the immutable priced snapshot, stored in
// `ticket_items`.  It is never recomputed from the live catalog.
type TicketItem struct {
	ItemCode  string  `json:"itemCode"`
	Label     string  `json:"label"`
	Category  string  `json:"category"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Amount    float64 `json:"amount"`
}

// Ticket is one issued, priced sale unit for one visit.  QRToken and
// VerificationTokenHash are server-only and excluded from JSON.
//
// Fields:
//
//	TicketID  – KZP-DDMMYY-XXXXXX, customer visible.
//	BookingID – back-reference to the parent booking (equals TicketID).
//	VisitDate – YYYY-MM-DD (UTC date only).
//	QRUsed    – false until the single successful entry; never reset.
type Ticket struct {
	ID                    uint64       `json:"-"`
	TicketID              string       `json:"ticketId"`
	BookingID             string       `json:"bookingId"`
	QRToken               string       `json:"-"`
	VerificationTokenHash string       `json:"-"`
	VisitDate             string       `json:"visitDate"`
	IssueDate             time.Time    `json:"issueDate"`
	Items                 []TicketItem `json:"items"`
	TotalAmount           float64      `json:"totalAmount"`
	PaymentMode           string       `json:"paymentMode"`
	PaymentStatus         string       `json:"paymentStatus"`
	CashAmount            float64      `json:"cashAmount"`
	UPIAmount             float64      `json:"upiAmount"`
	TicketSource          string       `json:"ticketSource"`
	VisitorName           string       `json:"visitorName"`
	VisitorMobile         string       `json:"visitorMobile"`
	VisitorEmail          *string      `json:"visitorEmail,omitempty"`
	IssuedBy              *string      `json:"issuedBy,omitempty"`
	QRUsed                bool         `json:"qrUsed"`
	QRUsedAt              *time.Time   `json:"qrUsedAt,omitempty"`
	UsedVia               *string      `json:"usedVia,omitempty"`
	UsedAt                *time.Time   `json:"usedAt,omitempty"`
	CreatedAt             time.Time    `json:"createdAt"`
}

// TicketSummary is what the gate sees after a successful entry.
type TicketSummary struct {
	TicketID      string       `json:"ticketId"`
	VisitDate     string       `json:"visitDate"`
	VisitorName   string       `json:"visitorName"`
	Items         []TicketItem `json:"items"`
	TotalAmount   float64      `json:"totalAmount"`
	PaymentStatus string       `json:"paymentStatus"`
	UsedVia       string       `json:"usedVia"`
	UsedAt        time.Time    `json:"usedAt"`
}

// Summary projects t for the gate response.
func (t *Ticket) Summary() TicketSummary {
	s := TicketSummary{
		TicketID:      t.TicketID,
		VisitDate:     t.VisitDate,
		VisitorName:   t.VisitorName,
		Items:         t.Items,
		TotalAmount:   t.TotalAmount,
		PaymentStatus: t.PaymentStatus,
	}
	if t.UsedVia != nil {
		s.UsedVia = *t.UsedVia
	}
	if t.UsedAt != nil {
		s.UsedAt = *t.UsedAt
	}
	return s
}
