package model

import "time"

// Booking entry statuses.
const (
	EntryNotEntered = "NOT_ENTERED"
	EntryEntered    = "ENTERED"
)

// Booking is the transaction envelope around a ticket.  In this service
// every booking carries exactly one ticket and BookingID equals TicketID.
// It exists for reporting and never gates entry.
type Booking struct {
	ID            uint64       `json:"-"`
	BookingID     string       `json:"bookingId"`
	TicketID      string       `json:"ticketId"`
	VisitDate     string       `json:"visitDate"`
	TotalAmount   float64      `json:"totalAmount"`
	Items         []TicketItem `json:"items"`
	PaymentMode   string       `json:"paymentMode"`
	PaymentStatus string       `json:"paymentStatus"`
	TicketSource  string       `json:"ticketSource"`
	EntryStatus   string       `json:"entryStatus"`
	CreatedAt     time.Time    `json:"createdAt"`
}
