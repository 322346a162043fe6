package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/queue"
	"github.com/kzp/zoo-ticketing/internal/repository"
)

const (
	maxReasonLen    = 500
	unknownTicketID = "UNKNOWN"
)

var ticketIDPattern = regexp.MustCompile(`^KZP-\d{6}-[A-Z0-9]{6}$`)

// EntryStore is the ticket persistence used at the gate.
// *repository.TicketRepo satisfies it.
type EntryStore interface {
	ConsumeByQRToken(ctx context.Context, token, visitDate string, at time.Time) (bool, error)
	ConsumeByTicketID(ctx context.Context, ticketID, visitDate string, at time.Time) (bool, error)
	GetByQRToken(ctx context.Context, token string) (*model.Ticket, error)
	GetByTicketID(ctx context.Context, ticketID string) (*model.Ticket, error)
	MarkBookingEntered(ctx context.Context, ticketID string) error
}

// ScanLogStore appends scan attempts.  *repository.ScanLogRepo satisfies
// it.
type ScanLogStore interface {
	Insert(ctx context.Context, l *model.ScanLog) error
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]model.ScanLog, error)
}

// EntryService consumes tickets at the gate.  Consumption is a single
// conditional update in storage; no application lock is taken.  Every call
// writes exactly one scan log row whatever the outcome.
type EntryService struct {
	tickets EntryStore
	logs    ScanLogStore
	events  Publisher
	now     func() time.Time
}

// NewEntryService wires the entry engine.  events may be nil.
func NewEntryService(tickets EntryStore, logs ScanLogStore, events Publisher, now func() time.Time) *EntryService {
	if now == nil {
		now = time.Now
	}
	return &EntryService{tickets: tickets, logs: logs, events: events, now: now}
}

// ValidateQR consumes the ticket holding token if it is unused and valid
// today.
func (s *EntryService) ValidateQR(ctx context.Context, token, gateID string) (*model.TicketSummary, error) {
	token = strings.TrimSpace(token)
	gateID = strings.TrimSpace(gateID)
	at := s.now().UTC()
	today := at.Format(dateLayout)

	if token == "" {
		s.record(ctx, unknownTicketID, model.MethodQRToken, model.ScanInvalidToken, strPtr("empty token"), gateID, at)
		return nil, ErrInvalidToken
	}

	ok, err := s.tickets.ConsumeByQRToken(ctx, token, today, at)
	if err != nil {
		s.record(ctx, unknownTicketID, model.MethodQRToken, model.ScanError, strPtr("storage error"), gateID, at)
		return nil, ErrInternal.wrap(err)
	}
	t, lookupErr := s.tickets.GetByQRToken(ctx, token)

	if ok {
		if lookupErr != nil {
			// Consumed, but the summary could not be read back.
			log.WithError(lookupErr).Warn("gate: consumed ticket could not be re-read")
			s.record(ctx, unknownTicketID, model.MethodQRToken, model.ScanSuccess, nil, gateID, at)
			return &model.TicketSummary{UsedVia: model.MethodQRToken, UsedAt: at}, nil
		}
		return s.admitted(ctx, t, model.MethodQRToken, nil, gateID, at), nil
	}

	if lookupErr != nil {
		if errors.Is(lookupErr, repository.ErrNotFound) {
			s.record(ctx, unknownTicketID, model.MethodQRToken, model.ScanInvalidToken, strPtr("token not recognised"), gateID, at)
			return nil, ErrInvalidToken
		}
		s.record(ctx, unknownTicketID, model.MethodQRToken, model.ScanError, strPtr("storage error"), gateID, at)
		return nil, ErrInternal.wrap(lookupErr)
	}
	return nil, s.rejected(ctx, t, model.MethodQRToken, nil, gateID, today, at)
}

// ValidateManual consumes a ticket by its ID.  Staff must give a reason,
// and only PAID tickets can be admitted this way.
func (s *EntryService) ValidateManual(ctx context.Context, ticketID, gateID, reason string) (*model.TicketSummary, error) {
	ticketID = strings.ToUpper(strings.TrimSpace(ticketID))
	gateID = strings.TrimSpace(gateID)
	reason = strings.TrimSpace(reason)
	at := s.now().UTC()
	today := at.Format(dateLayout)

	logID := ticketID
	if logID == "" {
		logID = unknownTicketID
	}
	if !ticketIDPattern.MatchString(ticketID) {
		s.record(ctx, logID, model.MethodManualTicketID, model.ScanError, strPtr(truncateReason(reason)), gateID, at)
		return nil, ErrInvalidInput.withMessage("ticketId must look like KZP-DDMMYY-XXXXXX")
	}
	if reason == "" {
		s.record(ctx, logID, model.MethodManualTicketID, model.ScanError, nil, gateID, at)
		return nil, ErrInvalidInput.withMessage("reason is required for manual entry")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		s.record(ctx, logID, model.MethodManualTicketID, model.ScanError, strPtr(truncateReason(reason)), gateID, at)
		return nil, ErrInvalidInput.withMessage("reason must be at most %d characters", maxReasonLen)
	}

	ok, err := s.tickets.ConsumeByTicketID(ctx, ticketID, today, at)
	if err != nil {
		s.record(ctx, ticketID, model.MethodManualTicketID, model.ScanError, &reason, gateID, at)
		return nil, ErrInternal.wrap(err)
	}
	t, lookupErr := s.tickets.GetByTicketID(ctx, ticketID)

	if ok {
		if lookupErr != nil {
			log.WithError(lookupErr).WithField("ticket_id", ticketID).Warn("gate: consumed ticket could not be re-read")
			s.record(ctx, ticketID, model.MethodManualTicketID, model.ScanSuccess, &reason, gateID, at)
			return &model.TicketSummary{TicketID: ticketID, UsedVia: model.MethodManualTicketID, UsedAt: at}, nil
		}
		return s.admitted(ctx, t, model.MethodManualTicketID, &reason, gateID, at), nil
	}

	if lookupErr != nil {
		if errors.Is(lookupErr, repository.ErrNotFound) {
			s.record(ctx, ticketID, model.MethodManualTicketID, model.ScanNotFound, &reason, gateID, at)
			return nil, ErrTicketNotFound
		}
		s.record(ctx, ticketID, model.MethodManualTicketID, model.ScanError, &reason, gateID, at)
		return nil, ErrInternal.wrap(lookupErr)
	}
	if t.PaymentStatus != model.PaymentPaid {
		s.record(ctx, ticketID, model.MethodManualTicketID, model.ScanError, &reason, gateID, at)
		return nil, ErrPaymentIncomplete
	}
	return nil, s.rejected(ctx, t, model.MethodManualTicketID, &reason, gateID, today, at)
}

// admitted finishes a successful consumption.
func (s *EntryService) admitted(ctx context.Context, t *model.Ticket, method string, reason *string, gateID string, at time.Time) *model.TicketSummary {
	s.record(ctx, t.TicketID, method, model.ScanSuccess, reason, gateID, at)
	if err := s.tickets.MarkBookingEntered(ctx, t.TicketID); err != nil {
		log.WithError(err).WithField("ticket_id", t.TicketID).Warn("gate: booking entry status not updated")
	}
	log.WithFields(log.Fields{"ticket_id": t.TicketID, "method": method, "gate": gateID}).Info("ticket admitted")
	publishAsync(s.events, queue.EntryValidatedQueue, queue.EntryValidatedEvent{
		TicketID:    t.TicketID,
		Method:      method,
		GateID:      gateID,
		ValidatedAt: at.Format(time.RFC3339),
	})
	summary := t.Summary()
	return &summary
}

// rejected classifies a failed consumption of a ticket that exists.
func (s *EntryService) rejected(ctx context.Context, t *model.Ticket, method string, reason *string, gateID, today string, at time.Time) error {
	switch {
	case t.QRUsed:
		via := "unknown method"
		if t.UsedVia != nil {
			via = *t.UsedVia
		}
		s.record(ctx, t.TicketID, method, model.ScanAlreadyUsed, orReason(reason, "already used via "+via), gateID, at)
		msg := "ticket has already been used via " + via
		if t.UsedAt != nil {
			msg += " at " + t.UsedAt.UTC().Format(time.RFC3339)
		}
		return ErrAlreadyUsed.withMessage("%s", msg)
	case t.VisitDate != today:
		s.record(ctx, t.TicketID, method, model.ScanInvalidDate, orReason(reason, "ticket is for "+t.VisitDate), gateID, at)
		return ErrEntryInvalidDate.withMessage("ticket is valid for %s, not %s", t.VisitDate, today)
	}
	s.record(ctx, t.TicketID, method, model.ScanError, orReason(reason, "unclassified rejection"), gateID, at)
	return ErrEntryRejected
}

// record writes one scan log row.  A failed write never changes the gate
// decision; it is logged and raised on the alert queue.
func (s *EntryService) record(ctx context.Context, ticketID, method, result string, reason *string, gateID string, at time.Time) {
	entry := &model.ScanLog{
		TicketID:  ticketID,
		Method:    method,
		Result:    result,
		Reason:    reason,
		GateID:    gateID,
		ScannedAt: at,
	}
	if err := s.logs.Insert(ctx, entry); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"ticket_id": ticketID,
			"method":    method,
			"result":    result,
			"gate":      gateID,
		}).Error("scan log write failed")
		publishAsync(s.events, queue.ScanAlertQueue, queue.ScanAlertEvent{
			TicketID:   ticketID,
			Method:     method,
			Result:     result,
			GateID:     gateID,
			Error:      err.Error(),
			OccurredAt: at.Format(time.RFC3339),
		})
	}
}

// ScanHistory lists the attempts recorded for ticketID.
func (s *EntryService) ScanHistory(ctx context.Context, ticketID string, limit int) ([]model.ScanLog, error) {
	ticketID = strings.ToUpper(strings.TrimSpace(ticketID))
	if ticketID == "" {
		return nil, ErrInvalidInput.withMessage("ticketId is required")
	}
	logs, err := s.logs.ListByTicket(ctx, ticketID, limit)
	if err != nil {
		return nil, ErrInternal.wrap(err)
	}
	return logs, nil
}

func strPtr(s string) *string { return &s }

func orReason(reason *string, fallback string) *string {
	if reason != nil {
		return reason
	}
	return &fallback
}

func truncateReason(s string) string {
	if utf8.RuneCountInString(s) <= maxReasonLen {
		return s
	}
	return string([]rune(s)[:maxReasonLen])
}
