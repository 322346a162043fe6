package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/queue"
	"github.com/kzp/zoo-ticketing/internal/repository"
)

// steppingClock advances one second on every reading.
func steppingClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time { return start.Add(time.Duration(n.Add(1)) * time.Second) }
}

type failingScanLogs struct{ *repository.ScanLogRepo }

func (failingScanLogs) Insert(context.Context, *model.ScanLog) error {
	return errors.New("disk full")
}

func issueFor(t *testing.T, env *testEnv, visitDate, status string) *BookingResult {
	t.Helper()
	req := onlineReq(visitDate, cart("zoo_adult", "2"))
	req.PaymentStatus = status
	res, err := env.bookings.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return res
}

func scanResults(t *testing.T, env *testEnv, ticketID string) []string {
	t.Helper()
	logs, err := env.scans.ListByTicket(context.Background(), ticketID, 0)
	if err != nil {
		t.Fatalf("list scans: %v", err)
	}
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Result
	}
	return out
}

func TestValidateQRSingleUse(t *testing.T) {
	env := newTestEnv(t, monday)
	env.entry = NewEntryService(env.tickets, env.scans, env.events, steppingClock(monday))
	ctx := context.Background()
	res := issueFor(t, env, "2025-06-02", model.PaymentPaid)
	id := res.Ticket.TicketID

	summary, err := env.entry.ValidateQR(ctx, res.Ticket.QRToken, "GATE-1")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if summary.TicketID != id || summary.UsedVia != model.MethodQRToken || summary.TotalAmount != 100 || len(summary.Items) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	_, err = env.entry.ValidateQR(ctx, res.Ticket.QRToken, "GATE-2")
	if !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second scan: err = %v, want ErrAlreadyUsed", err)
	}
	if !strings.Contains(err.Error(), model.MethodQRToken) {
		t.Fatalf("message %q does not name the entry method", err)
	}

	logs, err := env.entry.ScanHistory(ctx, strings.ToLower(id), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(logs) != 2 || logs[0].Result != model.ScanAlreadyUsed || logs[1].Result != model.ScanSuccess {
		t.Fatalf("history = %+v", logs)
	}
	if logs[0].GateID != "GATE-2" || logs[1].Method != model.MethodQRToken {
		t.Fatalf("history = %+v", logs)
	}

	b, err := env.tickets.GetBooking(ctx, id)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if b.EntryStatus != model.EntryEntered {
		t.Fatalf("entry status = %q", b.EntryStatus)
	}
	stored, _ := env.tickets.GetByTicketID(ctx, id)
	if !stored.QRUsed || stored.UsedAt == nil || stored.UsedVia == nil || *stored.UsedVia != model.MethodQRToken {
		t.Fatalf("stored = %+v", stored)
	}
	env.events.waitFor(t, queue.EntryValidatedQueue, 1)
}

func TestValidateQRRejections(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	future := issueFor(t, env, "2025-06-04", model.PaymentPaid)

	if _, err := env.entry.ValidateQR(ctx, "zqr_doesnotexist", "GATE-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token: %v", err)
	}
	if _, err := env.entry.ValidateQR(ctx, "   ", "GATE-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}
	if got := scanResults(t, env, "UNKNOWN"); len(got) != 2 || got[0] != model.ScanInvalidToken || got[1] != model.ScanInvalidToken {
		t.Fatalf("unknown-token logs = %v", got)
	}

	if _, err := env.entry.ValidateQR(ctx, future.Ticket.QRToken, "GATE-1"); !errors.Is(err, ErrEntryInvalidDate) {
		t.Fatalf("future ticket: %v", err)
	}
	if got := scanResults(t, env, future.Ticket.TicketID); len(got) != 1 || got[0] != model.ScanInvalidDate {
		t.Fatalf("future ticket logs = %v", got)
	}
	stored, _ := env.tickets.GetByTicketID(ctx, future.Ticket.TicketID)
	if stored.QRUsed {
		t.Fatalf("future ticket consumed")
	}
}

func TestValidateQRConcurrentScansAdmitOnce(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	res := issueFor(t, env, "2025-06-02", model.PaymentPaid)

	const scanners = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		used      atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.entry.ValidateQR(ctx, res.Ticket.QRToken, "GATE-1")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyUsed):
				used.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || used.Load() != scanners-1 {
		t.Fatalf("successes=%d already used=%d", successes.Load(), used.Load())
	}
	n, err := env.scans.Count(ctx, res.Ticket.TicketID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != scanners {
		t.Fatalf("scan logs = %d, want %d", n, scanners)
	}
}

func TestValidateManualPaymentGate(t *testing.T) {
	env := newTestEnv(t, monday)
	env.entry = NewEntryService(env.tickets, env.scans, env.events, steppingClock(monday))
	ctx := context.Background()
	res := issueFor(t, env, "2025-06-02", model.PaymentPending)
	id := res.Ticket.TicketID

	_, err := env.entry.ValidateManual(ctx, id, "GATE-1", "QR damaged")
	if !errors.Is(err, ErrPaymentIncomplete) {
		t.Fatalf("pending ticket: err = %v, want ErrPaymentIncomplete", err)
	}
	if KindOf(err) != KindForbidden {
		t.Fatalf("kind = %v", KindOf(err))
	}
	stored, _ := env.tickets.GetByTicketID(ctx, id)
	if stored.QRUsed {
		t.Fatalf("pending ticket consumed")
	}

	if _, err := env.bookings.ConfirmPayment(ctx, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	summary, err := env.entry.ValidateManual(ctx, strings.ToLower(id), "GATE-1", "QR damaged")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if summary.UsedVia != model.MethodManualTicketID || summary.PaymentStatus != model.PaymentPaid {
		t.Fatalf("summary = %+v", summary)
	}

	_, err = env.entry.ValidateQR(ctx, res.Ticket.QRToken, "GATE-2")
	if !errors.Is(err, ErrAlreadyUsed) || !strings.Contains(err.Error(), model.MethodManualTicketID) {
		t.Fatalf("qr after manual: %v", err)
	}

	logs, _ := env.entry.ScanHistory(ctx, id, 0)
	if len(logs) != 3 {
		t.Fatalf("history = %+v", logs)
	}
	if logs[1].Reason == nil || *logs[1].Reason != "QR damaged" {
		t.Fatalf("manual log reason = %v", logs[1].Reason)
	}
	if logs[2].Result != model.ScanError {
		t.Fatalf("pending attempt logged as %q", logs[2].Result)
	}
}

func TestValidateManualRejections(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	res := issueFor(t, env, "2025-06-02", model.PaymentPaid)
	long := strings.Repeat("x", 501)

	tests := []struct {
		name, id, reason string
		want             error
		logID, result    string
	}{
		{"bad format", "KZP-1", "lost phone", ErrInvalidInput, "KZP-1", model.ScanError},
		{"missing reason", res.Ticket.TicketID, "  ", ErrInvalidInput, res.Ticket.TicketID, model.ScanError},
		{"reason too long", res.Ticket.TicketID, long, ErrInvalidInput, res.Ticket.TicketID, model.ScanError},
		{"unknown ticket", "KZP-020625-ZZZZZZ", "lost phone", ErrTicketNotFound, "KZP-020625-ZZZZZZ", model.ScanNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(scanResults(t, env, tt.logID))
			if _, err := env.entry.ValidateManual(ctx, tt.id, "GATE-1", tt.reason); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			got := scanResults(t, env, tt.logID)
			if len(got) != before+1 {
				t.Fatalf("logs = %v, want one more than %d", got, before)
			}
		})
	}

	logs, _ := env.scans.ListByTicket(ctx, res.Ticket.TicketID, 0)
	for _, l := range logs {
		if l.Reason != nil && len([]rune(*l.Reason)) > 500 {
			t.Fatalf("stored reason has %d characters", len([]rune(*l.Reason)))
		}
	}
	stored, _ := env.tickets.GetByTicketID(ctx, res.Ticket.TicketID)
	if stored.QRUsed {
		t.Fatalf("ticket consumed by a rejected request")
	}
}

func TestScanLogFailureDoesNotBlockEntry(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	res := issueFor(t, env, "2025-06-02", model.PaymentPaid)
	entry := NewEntryService(env.tickets, failingScanLogs{env.scans}, env.events, clockAt(monday))

	if _, err := entry.ValidateQR(ctx, res.Ticket.QRToken, "GATE-1"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	env.events.waitFor(t, queue.ScanAlertQueue, 1)
	env.events.waitFor(t, queue.EntryValidatedQueue, 1)

	if _, err := entry.ScanHistory(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty history id: %v", err)
	}
}
