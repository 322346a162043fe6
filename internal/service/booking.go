package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/queue"
	"github.com/kzp/zoo-ticketing/internal/repository"
	"github.com/kzp/zoo-ticketing/internal/utils"
)

const dateLayout = "2006-01-02"

var (
	mobilePattern = regexp.MustCompile(`^[0-9]{10}$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// TicketStore is the ledger persistence.  *repository.TicketRepo
// satisfies it.
type TicketStore interface {
	Exists(ctx context.Context, ticketID string) (bool, error)
	Issue(ctx context.Context, t *model.Ticket, b *model.Booking) error
	GetByTicketID(ctx context.Context, ticketID string) (*model.Ticket, error)
	Retract(ctx context.Context, ticketID string) error
	ConfirmPayment(ctx context.Context, ticketID string) error
	GetBooking(ctx context.Context, ticketID string) (*model.Booking, error)
}

// Publisher sends domain events.  *queue.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, queueName string, event any) error
}

// BookingPolicy holds the sale rules that vary by deployment.
type BookingPolicy struct {
	WindowDays    int
	ClosedWeekday time.Weekday
	OnlineMaxQty  int
	OnlineModes   []string
	CounterModes  []string
	QRImageSize   int
}

// DefaultOnlineModes and DefaultCounterModes are the payment allow-lists.
var (
	DefaultOnlineModes  = []string{"UPI", "CARD", "NETBANKING", "WALLET"}
	DefaultCounterModes = []string{"CASH", "UPI", "SPLIT"}
)

// VisitorDetails identifies the buyer.
type VisitorDetails struct {
	Name   string  `json:"name"`
	Mobile string  `json:"mobile"`
	Email  *string `json:"email,omitempty"`
}

// BookingRequest is the online sale payload.
type BookingRequest struct {
	VisitDate     string         `json:"visitDate"`
	PaymentMode   string         `json:"paymentMode"`
	PaymentStatus string         `json:"paymentStatus,omitempty"`
	Items         []CartItem     `json:"items"`
	Visitor       VisitorDetails `json:"visitor"`
}

// CounterBookingRequest is the walk-up sale payload.  CashAmount and
// UPIAmount describe how the total was collected.
type CounterBookingRequest struct {
	BookingRequest
	TicketSource string   `json:"ticketSource"`
	CashAmount   *float64 `json:"cashAmount,omitempty"`
	UPIAmount    *float64 `json:"upiAmount,omitempty"`
}

// BookingResult is returned once per sale.  VerificationToken is never
// retrievable again.
type BookingResult struct {
	Ticket            *model.Ticket  `json:"ticket"`
	Booking           *model.Booking `json:"booking"`
	QRImage           string         `json:"qrImage"`
	VerificationToken string         `json:"verificationToken"`
	TotalAmount       float64        `json:"totalAmount"`
}

// BookingService is the ledger's creation path.
type BookingService struct {
	catalog *CatalogService
	alloc   *Allocator
	store   TicketStore
	events  Publisher
	policy  BookingPolicy
	now     func() time.Time
}

// NewBookingService wires the ledger.  events may be nil.
func NewBookingService(catalog *CatalogService, store TicketStore, events Publisher, policy BookingPolicy, now func() time.Time) *BookingService {
	if now == nil {
		now = time.Now
	}
	if len(policy.OnlineModes) == 0 {
		policy.OnlineModes = DefaultOnlineModes
	}
	if len(policy.CounterModes) == 0 {
		policy.CounterModes = DefaultCounterModes
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = 60
	}
	return &BookingService{
		catalog: catalog,
		alloc:   NewAllocator(store, now),
		store:   store,
		events:  events,
		policy:  policy,
		now:     now,
	}
}

// Quote prices a cart for visitDate without creating anything.
func (s *BookingService) Quote(ctx context.Context, visitDate string, items []CartItem) (PricedCart, error) {
	if visitDate != "" {
		d, err := s.checkVisitDate(visitDate)
		if err != nil {
			return PricedCart{}, err
		}
		visitDate = d
	}
	return ResolveAndPrice(items, s.catalog.Snapshot(ctx, visitDate), s.policy.OnlineMaxQty)
}

// CreateBooking runs the online sale: date, payment mode, pricing,
// visitor, allocation, then one transaction for ticket and booking.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	visitDate, err := s.checkVisitDate(req.VisitDate)
	if err != nil {
		return nil, err
	}
	mode, err := checkMode(req.PaymentMode, s.policy.OnlineModes)
	if err != nil {
		return nil, err
	}
	status := strings.ToUpper(strings.TrimSpace(req.PaymentStatus))
	switch status {
	case "":
		status = model.PaymentPaid
	case model.PaymentPaid, model.PaymentPending:
	default:
		return nil, ErrInvalidInput.withMessage("paymentStatus must be PAID or PENDING")
	}
	priced, err := ResolveAndPrice(req.Items, s.catalog.Snapshot(ctx, visitDate), s.policy.OnlineMaxQty)
	if err != nil {
		return nil, err
	}
	visitor, err := checkVisitor(req.Visitor)
	if err != nil {
		return nil, err
	}

	draft := ticketDraft{
		visitDate: visitDate,
		priced:    priced,
		mode:      mode,
		status:    status,
		source:    model.SourceOnline,
		visitor:   visitor,
	}
	if mode == "UPI" {
		draft.upi = priced.TotalAmount
	}
	res, err := s.issue(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.announce(res)
	return res, nil
}

// CreateCounterBooking runs the walk-up sale.  On top of the online rules
// it checks the cash/UPI breakup and re-reads the stored ticket; a ticket
// that does not match the priced cart is removed and reported as
// ErrPersistenceIntegrity.
func (s *BookingService) CreateCounterBooking(ctx context.Context, req CounterBookingRequest, issuedBy string) (*BookingResult, error) {
	source := strings.ToUpper(strings.TrimSpace(req.TicketSource))
	switch source {
	case "":
		source = model.SourceCounter
	case model.SourceCounter, model.SourceAdmin:
	default:
		return nil, ErrInvalidSource.withMessage("ticketSource %q is not accepted at the counter", source)
	}
	visitDate, err := s.checkVisitDate(req.VisitDate)
	if err != nil {
		return nil, err
	}
	mode, err := checkMode(req.PaymentMode, s.policy.CounterModes)
	if err != nil {
		return nil, err
	}
	priced, err := ResolveAndPrice(req.Items, s.catalog.Snapshot(ctx, visitDate), 0)
	if err != nil {
		return nil, err
	}
	cash, upi, err := checkBreakup(mode, priced.TotalAmount, req.CashAmount, req.UPIAmount)
	if err != nil {
		return nil, err
	}
	visitor, err := checkVisitor(req.Visitor)
	if err != nil {
		return nil, err
	}

	draft := ticketDraft{
		visitDate: visitDate,
		priced:    priced,
		mode:      mode,
		status:    model.PaymentPaid,
		source:    source,
		visitor:   visitor,
		cash:      cash,
		upi:       upi,
	}
	if issuedBy != "" {
		draft.issuedBy = &issuedBy
	}
	res, err := s.issue(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := s.verifyStored(ctx, res.Ticket.TicketID, priced); err != nil {
		if rerr := s.store.Retract(ctx, res.Ticket.TicketID); rerr != nil {
			log.WithError(rerr).WithField("ticket_id", res.Ticket.TicketID).Error("counter booking: retract failed")
		}
		log.WithError(err).WithField("ticket_id", res.Ticket.TicketID).Error("counter booking: integrity check failed")
		return nil, ErrPersistenceIntegrity.wrap(err)
	}
	s.announce(res)
	return res, nil
}

// announce publishes ticket.issued for a committed sale.
func (s *BookingService) announce(res *BookingResult) {
	t := res.Ticket
	publishAsync(s.events, queue.TicketIssuedQueue, queue.TicketIssuedEvent{
		TicketID:      t.TicketID,
		BookingID:     res.Booking.BookingID,
		VisitDate:     t.VisitDate,
		TicketSource:  t.TicketSource,
		PaymentMode:   t.PaymentMode,
		PaymentStatus: t.PaymentStatus,
		TotalAmount:   t.TotalAmount,
		ItemCount:     len(t.Items),
		IssuedAt:      t.IssueDate.Format(time.RFC3339),
	})
}

type ticketDraft struct {
	visitDate string
	priced    PricedCart
	mode      string
	status    string
	source    string
	visitor   VisitorDetails
	cash, upi float64
	issuedBy  *string
}

// issue allocates, persists and renders.  A unique collision at insert
// time gets a fresh ID and credentials.
func (s *BookingService) issue(ctx context.Context, d ticketDraft) (*BookingResult, error) {
	for attempt := 0; attempt < allocationAttempts; attempt++ {
		ticketID, err := s.alloc.AllocateTicketID(ctx)
		if err != nil {
			return nil, err
		}
		creds, err := s.alloc.AllocateCredentials()
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		t := &model.Ticket{
			TicketID:              ticketID,
			QRToken:               creds.QRToken,
			VerificationTokenHash: creds.VerificationTokenHash,
			VisitDate:             d.visitDate,
			IssueDate:             now,
			Items:                 d.priced.Items,
			TotalAmount:           d.priced.TotalAmount,
			PaymentMode:           d.mode,
			PaymentStatus:         d.status,
			CashAmount:            d.cash,
			UPIAmount:             d.upi,
			TicketSource:          d.source,
			VisitorName:           d.visitor.Name,
			VisitorMobile:         d.visitor.Mobile,
			VisitorEmail:          d.visitor.Email,
			IssuedBy:              d.issuedBy,
			CreatedAt:             now,
		}
		b := &model.Booking{
			BookingID:     ticketID,
			TicketID:      ticketID,
			VisitDate:     d.visitDate,
			TotalAmount:   d.priced.TotalAmount,
			Items:         d.priced.Items,
			PaymentMode:   d.mode,
			PaymentStatus: d.status,
			TicketSource:  d.source,
			EntryStatus:   model.EntryNotEntered,
			CreatedAt:     now,
		}
		if err := s.store.Issue(ctx, t, b); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				log.WithField("ticket_id", ticketID).Warn("booking: ticket id collided at insert; reallocating")
				continue
			}
			return nil, ErrInternal.wrap(err)
		}

		qr, err := utils.RenderQRDataURI(t.QRToken, s.policy.QRImageSize)
		if err != nil {
			log.WithError(err).WithField("ticket_id", ticketID).Error("booking: render qr failed")
		}
		log.WithFields(log.Fields{
			"ticket_id": ticketID,
			"source":    d.source,
			"total":     d.priced.TotalAmount,
			"visit":     d.visitDate,
		}).Info("ticket issued")
		return &BookingResult{
			Ticket:            t,
			Booking:           b,
			QRImage:           qr,
			VerificationToken: creds.VerificationToken,
			TotalAmount:       d.priced.TotalAmount,
		}, nil
	}
	return nil, ErrAllocationExhausted
}

// verifyStored re-reads the ticket and compares it to the priced cart.
func (s *BookingService) verifyStored(ctx context.Context, ticketID string, priced PricedCart) error {
	t, err := s.store.GetByTicketID(ctx, ticketID)
	if err != nil {
		return err
	}
	if len(t.Items) != len(priced.Items) {
		return errors.New("stored item count differs from priced cart")
	}
	sum := 0.0
	for _, it := range t.Items {
		sum += it.Amount
	}
	if !moneyEqual(sum, priced.TotalAmount) || !moneyEqual(t.TotalAmount, priced.TotalAmount) {
		return errors.New("stored amounts differ from priced total")
	}
	return nil
}

// TicketQR renders the QR image for a ticket when vt is the verification
// token issued with it.  Unknown tickets and wrong tokens both report
// ErrTicketNotFound.
func (s *BookingService) TicketQR(ctx context.Context, ticketID, vt string) (string, error) {
	ticketID = strings.ToUpper(strings.TrimSpace(ticketID))
	if vt == "" {
		return "", ErrTicketNotFound
	}
	t, err := s.store.GetByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrTicketNotFound
		}
		return "", ErrInternal.wrap(err)
	}
	if !utils.EqualHash(utils.SHA256Hex(vt), t.VerificationTokenHash) {
		return "", ErrTicketNotFound
	}
	qr, err := utils.RenderQRDataURI(t.QRToken, s.policy.QRImageSize)
	if err != nil {
		return "", ErrInternal.wrap(err)
	}
	return qr, nil
}

// GetTicket returns a stored ticket for staff.
func (s *BookingService) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	t, err := s.store.GetByTicketID(ctx, strings.ToUpper(strings.TrimSpace(ticketID)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, ErrInternal.wrap(err)
	}
	return t, nil
}

// GetBooking returns the booking envelope of a ticket.
func (s *BookingService) GetBooking(ctx context.Context, ticketID string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, strings.ToUpper(strings.TrimSpace(ticketID)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, ErrInternal.wrap(err)
	}
	return b, nil
}

// ConfirmPayment settles a PENDING ticket.
func (s *BookingService) ConfirmPayment(ctx context.Context, ticketID string) (*model.Ticket, error) {
	ticketID = strings.ToUpper(strings.TrimSpace(ticketID))
	if err := s.store.ConfirmPayment(ctx, ticketID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrTicketNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrNotPending
		}
		return nil, ErrInternal.wrap(err)
	}
	log.WithField("ticket_id", ticketID).Info("ticket payment confirmed")
	return s.GetTicket(ctx, ticketID)
}

// checkVisitDate normalizes raw to YYYY-MM-DD and enforces the booking
// window and the weekly closure, both in UTC.
func (s *BookingService) checkVisitDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(dateLayout) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			raw = t.UTC().Format(dateLayout)
		}
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", ErrInvalidVisitDate.withMessage("visitDate must be YYYY-MM-DD")
	}
	today := s.today()
	last := today.AddDate(0, 0, s.policy.WindowDays)
	if d.Before(today) || d.After(last) {
		return "", ErrInvalidVisitDate.withMessage("visitDate must be between %s and %s",
			today.Format(dateLayout), last.Format(dateLayout))
	}
	if d.Weekday() == s.policy.ClosedWeekday {
		return "", ErrClosedDay.withMessage("the zoo is closed on %ss", d.Weekday())
	}
	return d.Format(dateLayout), nil
}

func (s *BookingService) today() time.Time {
	n := s.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func checkMode(raw string, allowed []string) (string, error) {
	mode := strings.ToUpper(strings.TrimSpace(raw))
	for _, m := range allowed {
		if m == mode {
			return mode, nil
		}
	}
	return "", ErrPaymentModeNotAllowed.withMessage("payment mode %q is not allowed; use one of %s", mode, strings.Join(allowed, ", "))
}

func checkVisitor(v VisitorDetails) (VisitorDetails, error) {
	out := VisitorDetails{
		Name:   strings.TrimSpace(v.Name),
		Mobile: strings.TrimSpace(v.Mobile),
	}
	if out.Name == "" {
		return out, ErrInvalidVisitorDetails.withMessage("visitor name is required")
	}
	if !mobilePattern.MatchString(out.Mobile) {
		return out, ErrInvalidVisitorDetails.withMessage("mobile must be exactly 10 digits")
	}
	if v.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*v.Email))
		if email != "" {
			if !emailPattern.MatchString(email) {
				return out, ErrInvalidVisitorDetails.withMessage("email is not valid")
			}
			out.Email = &email
		}
	}
	return out, nil
}

// checkBreakup reconciles the collected amounts with total.  Missing
// amounts default to the single-mode split; free tickets skip the check.
func checkBreakup(mode string, total float64, cashIn, upiIn *float64) (float64, float64, error) {
	if total == 0 {
		return 0, 0, nil
	}
	val := func(p *float64, def float64) float64 {
		if p == nil {
			return def
		}
		return roundMoney(*p)
	}
	var cash, upi float64
	switch mode {
	case "CASH":
		cash, upi = val(cashIn, total), val(upiIn, 0)
		if !moneyEqual(cash, total) || !moneyEqual(upi, 0) {
			return 0, 0, ErrInvalidPaymentSplit.withMessage("cash payment must equal the total %.2f", total)
		}
	case "UPI":
		cash, upi = val(cashIn, 0), val(upiIn, total)
		if !moneyEqual(upi, total) || !moneyEqual(cash, 0) {
			return 0, 0, ErrInvalidPaymentSplit.withMessage("UPI payment must equal the total %.2f", total)
		}
	case "SPLIT":
		if cashIn == nil || upiIn == nil {
			return 0, 0, ErrInvalidPaymentSplit.withMessage("split payment needs cashAmount and upiAmount")
		}
		cash, upi = val(cashIn, 0), val(upiIn, 0)
		if cash <= 0 || upi <= 0 {
			return 0, 0, ErrInvalidPaymentSplit.withMessage("split payment needs both parts above zero")
		}
		if !moneyEqual(cash+upi, total) {
			return 0, 0, ErrInvalidPaymentSplit.withMessage("cash %.2f + UPI %.2f does not equal the total %.2f", cash, upi, total)
		}
	default:
		return 0, 0, ErrPaymentModeNotAllowed
	}
	return cash, upi, nil
}

// publishAsync sends event in the background; failures are logged only.
func publishAsync(p Publisher, queueName string, event any) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Publish(ctx, queueName, event); err != nil {
			log.WithError(err).WithField("queue", queueName).Warn("event publish failed")
		}
	}()
}
