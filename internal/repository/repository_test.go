package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kzp/zoo-ticketing/internal/database"
	"github.com/kzp/zoo-ticketing/internal/model"
)

var visitDay = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleTicket(id, qr, status string) (*model.Ticket, *model.Booking) {
	items := []model.TicketItem{
		{ItemCode: "zoo_adult", Label: "Adult Entry", Category: "zoo", Quantity: 2, UnitPrice: 50, Amount: 100},
		{ItemCode: "camera_still", Label: "Still Camera", Category: "camera", Quantity: 1, UnitPrice: 50, Amount: 50},
	}
	t := &model.Ticket{
		TicketID:              id,
		QRToken:               qr,
		VerificationTokenHash: "hash-" + id,
		VisitDate:             "2025-06-02",
		IssueDate:             visitDay,
		Items:                 items,
		TotalAmount:           150,
		PaymentMode:           "UPI",
		PaymentStatus:         status,
		UPIAmount:             150,
		TicketSource:          model.SourceOnline,
		VisitorName:           "Asha Rao",
		VisitorMobile:         "9876543210",
		CreatedAt:             visitDay,
	}
	b := &model.Booking{
		BookingID:     id,
		TicketID:      id,
		VisitDate:     t.VisitDate,
		TotalAmount:   t.TotalAmount,
		Items:         items,
		PaymentMode:   t.PaymentMode,
		PaymentStatus: status,
		TicketSource:  t.TicketSource,
		EntryStatus:   model.EntryNotEntered,
		CreatedAt:     visitDay,
	}
	return t, b
}

func TestTicketIssueAndRead(t *testing.T) {
	repo := NewTicketRepo(newTestDB(t))
	ctx := context.Background()

	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPaid)
	if err := repo.Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tk.ID == 0 || tk.BookingID != tk.TicketID {
		t.Fatalf("issued = %+v", tk)
	}

	ok, err := repo.Exists(ctx, tk.TicketID)
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	got, err := repo.GetByQRToken(ctx, "zqr_one")
	if err != nil {
		t.Fatalf("by token: %v", err)
	}
	if got.TicketID != tk.TicketID || len(got.Items) != 2 || got.Items[0].ItemCode != "zoo_adult" || got.TotalAmount != 150 {
		t.Fatalf("read back = %+v", got)
	}
	if !got.IssueDate.Equal(visitDay) || got.QRUsed || got.UsedAt != nil {
		t.Fatalf("read back = %+v", got)
	}

	booking, err := repo.GetBooking(ctx, tk.TicketID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if booking.EntryStatus != model.EntryNotEntered || len(booking.Items) != 2 {
		t.Fatalf("booking = %+v", booking)
	}

	if _, err := repo.GetByTicketID(ctx, "KZP-020625-ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing ticket: %v", err)
	}
	if _, err := repo.GetBooking(ctx, "KZP-020625-ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing booking: %v", err)
	}
}

func TestTicketIssueDuplicateKey(t *testing.T) {
	repo := NewTicketRepo(newTestDB(t))
	ctx := context.Background()

	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPaid)
	if err := repo.Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}
	sameID, b2 := sampleTicket("KZP-020625-AB12CD", "zqr_two", model.PaymentPaid)
	if err := repo.Issue(ctx, sameID, b2); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("same id: %v", err)
	}
	sameQR, b3 := sampleTicket("KZP-020625-EF34GH", "zqr_one", model.PaymentPaid)
	if err := repo.Issue(ctx, sameQR, b3); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("same qr token: %v", err)
	}

	var items int
	if err := repo.db.QueryRow("SELECT COUNT(*) FROM ticket_items").Scan(&items); err != nil {
		t.Fatalf("count: %v", err)
	}
	if items != 2 {
		t.Fatalf("rolled back inserts left %d items", items)
	}
}

func TestTicketConsume(t *testing.T) {
	repo := NewTicketRepo(newTestDB(t))
	ctx := context.Background()
	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPaid)
	if err := repo.Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if ok, err := repo.ConsumeByQRToken(ctx, "zqr_one", "2025-06-03", visitDay); err != nil || ok {
		t.Fatalf("wrong day: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.ConsumeByQRToken(ctx, "zqr_one", "2025-06-02", visitDay); err != nil || !ok {
		t.Fatalf("first: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.ConsumeByQRToken(ctx, "zqr_one", "2025-06-02", visitDay); err != nil || ok {
		t.Fatalf("second: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.ConsumeByTicketID(ctx, tk.TicketID, "2025-06-02", visitDay); err != nil || ok {
		t.Fatalf("manual after qr: ok=%v err=%v", ok, err)
	}

	got, _ := repo.GetByTicketID(ctx, tk.TicketID)
	if !got.QRUsed || got.UsedVia == nil || *got.UsedVia != model.MethodQRToken || got.UsedAt == nil || !got.UsedAt.Equal(visitDay) {
		t.Fatalf("consumed = %+v", got)
	}

	if err := repo.MarkBookingEntered(ctx, tk.TicketID); err != nil {
		t.Fatalf("mark entered: %v", err)
	}
	booking, _ := repo.GetBooking(ctx, tk.TicketID)
	if booking.EntryStatus != model.EntryEntered {
		t.Fatalf("entry status = %q", booking.EntryStatus)
	}
}

func TestTicketManualConsumeRequiresPayment(t *testing.T) {
	repo := NewTicketRepo(newTestDB(t))
	ctx := context.Background()
	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPending)
	if err := repo.Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if ok, _ := repo.ConsumeByTicketID(ctx, tk.TicketID, "2025-06-02", visitDay); ok {
		t.Fatalf("pending ticket consumed")
	}
	if err := repo.ConfirmPayment(ctx, tk.TicketID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := repo.ConfirmPayment(ctx, tk.TicketID); !errors.Is(err, ErrConflict) {
		t.Fatalf("confirm twice: %v", err)
	}
	if err := repo.ConfirmPayment(ctx, "KZP-020625-ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("confirm missing: %v", err)
	}
	if ok, err := repo.ConsumeByTicketID(ctx, tk.TicketID, "2025-06-02", visitDay); err != nil || !ok {
		t.Fatalf("paid ticket: ok=%v err=%v", ok, err)
	}
	booking, _ := repo.GetBooking(ctx, tk.TicketID)
	if booking.PaymentStatus != model.PaymentPaid {
		t.Fatalf("booking payment = %q", booking.PaymentStatus)
	}
}

func TestTicketRetract(t *testing.T) {
	repo := NewTicketRepo(newTestDB(t))
	ctx := context.Background()
	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPaid)
	if err := repo.Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := repo.Retract(ctx, tk.TicketID); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if ok, _ := repo.Exists(ctx, tk.TicketID); ok {
		t.Fatalf("ticket still exists")
	}
	if _, err := repo.GetBooking(ctx, tk.TicketID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("booking: %v", err)
	}
	if items, _ := repo.ListItems(ctx, tk.TicketID); len(items) != 0 {
		t.Fatalf("items left: %v", items)
	}
}

func TestScanLogNewestFirst(t *testing.T) {
	repo := NewScanLogRepo(newTestDB(t))
	ctx := context.Background()
	reason := "QR damaged"

	for i, result := range []string{model.ScanError, model.ScanSuccess, model.ScanAlreadyUsed} {
		l := &model.ScanLog{
			TicketID:  "KZP-020625-AB12CD",
			Method:    model.MethodManualTicketID,
			Result:    result,
			Reason:    &reason,
			GateID:    "GATE-1",
			ScannedAt: visitDay.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, l); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if l.ID == "" {
			t.Fatalf("no id assigned")
		}
	}
	if err := repo.Insert(ctx, &model.ScanLog{TicketID: "UNKNOWN", Method: model.MethodQRToken, Result: model.ScanInvalidToken}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	logs, err := repo.ListByTicket(ctx, "KZP-020625-AB12CD", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[0].Result != model.ScanAlreadyUsed || logs[1].Result != model.ScanSuccess {
		t.Fatalf("logs = %+v", logs)
	}
	if logs[0].Reason == nil || *logs[0].Reason != reason || !logs[0].ScannedAt.Equal(visitDay.Add(2*time.Minute)) {
		t.Fatalf("first log = %+v", logs[0])
	}
	if n, _ := repo.Count(ctx, "KZP-020625-AB12CD"); n != 3 {
		t.Fatalf("count = %d", n)
	}
	unknown, _ := repo.ListByTicket(ctx, "UNKNOWN", 0)
	if len(unknown) != 1 || unknown[0].Reason != nil {
		t.Fatalf("unknown logs = %+v", unknown)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	repo := NewTokenRepo(newTestDB(t))
	repo.now = func() time.Time { return visitDay }
	ctx := context.Background()
	exp := visitDay.Add(7 * 24 * time.Hour)

	if err := repo.StoreRefresh(ctx, 42, "h1", exp); err != nil {
		t.Fatalf("store: %v", err)
	}
	if uid, err := repo.ValidateRefresh(ctx, "h1"); err != nil || uid != 42 {
		t.Fatalf("validate = %d, %v", uid, err)
	}
	if uid, err := repo.Rotate(ctx, "h1", "h2", exp); err != nil || uid != 42 {
		t.Fatalf("rotate = %d, %v", uid, err)
	}
	if _, err := repo.Rotate(ctx, "h1", "h3", exp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replayed rotate: %v", err)
	}
	if _, err := repo.ValidateRefresh(ctx, "h3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay stored a token: %v", err)
	}
	if _, err := repo.ValidateRefresh(ctx, "h2"); err != nil {
		t.Fatalf("rotated token: %v", err)
	}

	if err := repo.RevokeAllForUser(ctx, 42); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := repo.ValidateRefresh(ctx, "h2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked token: %v", err)
	}
}

func TestRefreshTokenExpiry(t *testing.T) {
	repo := NewTokenRepo(newTestDB(t))
	repo.now = func() time.Time { return visitDay }
	ctx := context.Background()

	if err := repo.StoreRefresh(ctx, 1, "old", visitDay.Add(-time.Hour)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := repo.StoreRefresh(ctx, 1, "live", visitDay.Add(time.Hour)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := repo.ValidateRefresh(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token: %v", err)
	}
	if _, err := repo.Rotate(ctx, "old", "new", visitDay.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rotate expired: %v", err)
	}
	n, err := repo.PurgeExpired(ctx, visitDay)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if _, err := repo.ValidateRefresh(ctx, "live"); err != nil {
		t.Fatalf("live token purged: %v", err)
	}
}

func TestUserRepo(t *testing.T) {
	repo := NewUserRepo(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, " Gate@Zoo.Example ", "correct horse", model.RoleScanner, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Create(ctx, "gate@zoo.example", "another pass", model.RoleAdmin, 4); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("duplicate email: %v", err)
	}

	u, err := repo.GetByEmail(ctx, "GATE@zoo.example")
	if err != nil {
		t.Fatalf("by email: %v", err)
	}
	if u.ID != id || u.Email != "gate@zoo.example" || u.Role != model.RoleScanner || !u.IsActive {
		t.Fatalf("user = %+v", u)
	}
	if err := repo.SetActive(ctx, id, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	u, _ = repo.GetByID(ctx, id)
	if u.IsActive {
		t.Fatalf("still active")
	}
	if err := repo.SetActive(ctx, 999, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
	all, err := repo.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list = %v, %v", all, err)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql access denied", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, false},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: tickets.ticket_id (2067)"), true},
		{"other", errors.New("disk I/O error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateKey(tt.err); got != tt.want {
				t.Fatalf("isDuplicateKey(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTariffIsReferenced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tk, b := sampleTicket("KZP-020625-AB12CD", "zqr_one", model.PaymentPaid)
	if err := NewTicketRepo(db).Issue(ctx, tk, b); err != nil {
		t.Fatalf("issue: %v", err)
	}
	repo := NewTariffRepo(db)
	cases := []struct {
		codes []string
		want  bool
	}{
		{nil, false},
		{[]string{"tram"}, false},
		{[]string{"camera_still"}, true},
		{[]string{"tram", "zoo_adult"}, true},
		{[]string{"tram", "boat_ride"}, false},
	}
	for _, tc := range cases {
		got, err := repo.IsReferenced(ctx, tc.codes...)
		if err != nil {
			t.Fatalf("IsReferenced(%v): %v", tc.codes, err)
		}
		if got != tc.want {
			t.Fatalf("IsReferenced(%v) = %v, want %v", tc.codes, got, tc.want)
		}
	}
}
