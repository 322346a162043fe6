package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kzp/zoo-ticketing/internal/config"
	"github.com/kzp/zoo-ticketing/internal/database"
	"github.com/kzp/zoo-ticketing/internal/repository"
)

// monday is 2025-06-02 09:00 UTC; the zoo closes on Tuesdays.
var monday = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

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

func canonicalFile(t *testing.T) config.CatalogFile {
	t.Helper()
	f, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return f
}

type publishedEvent struct {
	queue string
	event any
}

// recordingPublisher captures events published in the background.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, queueName string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{queue: queueName, event: event})
	return nil
}

func (p *recordingPublisher) count(queueName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.queue == queueName {
			n++
		}
	}
	return n
}

// waitFor polls until at least n events reached queueName.
func (p *recordingPublisher) waitFor(t *testing.T, queueName string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.count(queueName) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d %s events, got %d", n, queueName, p.count(queueName))
}

type testEnv struct {
	db       *sql.DB
	tariffs  *repository.TariffRepo
	tickets  *repository.TicketRepo
	scans    *repository.ScanLogRepo
	catalog  *CatalogService
	bookings *BookingService
	entry    *EntryService
	events   *recordingPublisher
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:      db,
		tariffs: repository.NewTariffRepo(db),
		tickets: repository.NewTicketRepo(db),
		scans:   repository.NewScanLogRepo(db),
		events:  &recordingPublisher{},
	}
	env.catalog = NewCatalogService(env.tariffs, canonicalFile(t))
	env.bookings = NewBookingService(env.catalog, env.tickets, env.events, testPolicy(), clockAt(now))
	env.entry = NewEntryService(env.tickets, env.scans, env.events, clockAt(now))
	return env
}

func testPolicy() BookingPolicy {
	return BookingPolicy{
		WindowDays:    60,
		ClosedWeekday: time.Tuesday,
		OnlineMaxQty:  100,
		QRImageSize:   64,
	}
}

func visitor() VisitorDetails {
	return VisitorDetails{Name: "Asha Rao", Mobile: "9876543210"}
}

func cart(pairs ...string) []CartItem {
	var out []CartItem
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, CartItem{ItemCode: pairs[i], Quantity: json.Number(pairs[i+1])})
	}
	return out
}
