package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/kzp/zoo-ticketing/internal/utils"
)

const (
	ticketIDPrefix     = "KZP"
	qrTokenPrefix      = "zqr_"
	allocationAttempts = 5
)

// IDChecker reports whether a ticket ID is already taken.
type IDChecker interface {
	Exists(ctx context.Context, ticketID string) (bool, error)
}

// Credentials are the secrets minted for a new ticket.  VerificationToken
// is returned to the buyer once and only its hash is stored.
type Credentials struct {
	QRToken               string
	VerificationToken     string
	VerificationTokenHash string
}

// Allocator mints ticket IDs and credentials.
type Allocator struct {
	ids  IDChecker
	now  func() time.Time
	rand io.Reader
}

// NewAllocator returns an Allocator that checks candidates against ids.
func NewAllocator(ids IDChecker, now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{ids: ids, now: now, rand: rand.Reader}
}

// AllocateTicketID returns KZP-DDMMYY-XXXXXX for today's UTC date with 24
// random bits.  Candidates that already exist are retried a bounded number
// of times before giving up with ErrAllocationExhausted.
func (a *Allocator) AllocateTicketID(ctx context.Context) (string, error) {
	date := a.now().UTC().Format("020106")
	for i := 0; i < allocationAttempts; i++ {
		var b [3]byte
		if _, err := io.ReadFull(a.rand, b[:]); err != nil {
			return "", ErrInternal.wrap(err)
		}
		id := fmt.Sprintf("%s-%s-%02X%02X%02X", ticketIDPrefix, date, b[0], b[1], b[2])
		taken, err := a.ids.Exists(ctx, id)
		if err != nil {
			return "", ErrInternal.wrap(err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrAllocationExhausted
}

// AllocateCredentials mints a 128-bit QR token and a 256-bit verification
// token.  Neither embeds ticket data.
func (a *Allocator) AllocateCredentials() (Credentials, error) {
	qr, err := utils.RandomURLToken(16)
	if err != nil {
		return Credentials{}, ErrInternal.wrap(err)
	}
	vt, err := utils.RandomURLToken(32)
	if err != nil {
		return Credentials{}, ErrInternal.wrap(err)
	}
	return Credentials{
		QRToken:               qrTokenPrefix + qr,
		VerificationToken:     vt,
		VerificationTokenHash: utils.SHA256Hex(vt),
	}, nil
}
