// Package service holds the ticketing domain: tariff catalog and
// resequencing, pricing, allocation, the booking ledger and the entry
// engine.  Handlers call into it and translate its errors to HTTP.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindForbidden
	KindNotFound
	KindConflict
	KindIntegrity
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	}
	return "internal"
}

// Error is the single error type returned across the service boundary.
// Two Errors match under errors.Is when their codes match, so callers can
// compare against the sentinels below while the returned value carries a
// more specific message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// withMessage returns a copy of e with a specific message.
func (e *Error) withMessage(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// wrap returns a copy of e carrying cause.
func (e *Error) wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

var (
	ErrInvalidVisitDate      = &Error{Kind: KindValidation, Code: "invalid_visit_date", Message: "visit date is outside the booking window"}
	ErrClosedDay             = &Error{Kind: KindValidation, Code: "closed_day", Message: "the zoo is closed on the selected date"}
	ErrPaymentModeNotAllowed = &Error{Kind: KindValidation, Code: "payment_mode_not_allowed", Message: "payment mode is not allowed for this channel"}
	ErrPricingNotConfigured  = &Error{Kind: KindValidation, Code: "pricing_not_configured", Message: "no active tariff for item"}
	ErrInvalidQuantity       = &Error{Kind: KindValidation, Code: "invalid_quantity", Message: "quantity must be a positive whole number"}
	ErrEmptyCart             = &Error{Kind: KindValidation, Code: "empty_cart", Message: "cart has no priceable items"}
	ErrInvalidVisitorDetails = &Error{Kind: KindValidation, Code: "invalid_visitor_details", Message: "visitor details are invalid"}
	ErrInvalidPaymentSplit   = &Error{Kind: KindValidation, Code: "invalid_payment_breakup", Message: "payment breakup does not match the total"}
	ErrInvalidSource         = &Error{Kind: KindValidation, Code: "invalid_ticket_source", Message: "ticket source is not allowed for this channel"}
	ErrInvalidTariff         = &Error{Kind: KindValidation, Code: "invalid_tariff", Message: "tariff is invalid"}
	ErrInvalidInput          = &Error{Kind: KindValidation, Code: "invalid_input", Message: "request is invalid"}

	ErrAllocationExhausted  = &Error{Kind: KindInternal, Code: "allocation_exhausted", Message: "could not allocate a unique ticket id"}
	ErrPersistenceIntegrity = &Error{Kind: KindIntegrity, Code: "persistence_integrity", Message: "stored ticket does not match the priced cart"}
	ErrInternal             = &Error{Kind: KindInternal, Code: "internal_error", Message: "internal error"}

	ErrProtectedTariff = &Error{Kind: KindForbidden, Code: "protected_tariff", Message: "protected tariffs cannot be modified"}
	ErrTariffInUse     = &Error{Kind: KindConflict, Code: "tariff_in_use", Message: "tariff is referenced by issued tickets"}
	ErrTariffExists    = &Error{Kind: KindConflict, Code: "tariff_exists", Message: "an active tariff with this item code exists"}
	ErrTariffNotFound  = &Error{Kind: KindNotFound, Code: "tariff_not_found", Message: "tariff not found"}

	ErrTicketNotFound    = &Error{Kind: KindNotFound, Code: "not_found", Message: "ticket not found"}
	ErrInvalidToken      = &Error{Kind: KindNotFound, Code: "invalid_token", Message: "QR token is not recognised"}
	ErrAlreadyUsed       = &Error{Kind: KindConflict, Code: "already_used", Message: "ticket has already been used"}
	ErrEntryInvalidDate  = &Error{Kind: KindValidation, Code: "invalid_date", Message: "ticket is not valid today"}
	ErrPaymentIncomplete = &Error{Kind: KindForbidden, Code: "payment_not_completed", Message: "payment not completed"}
	ErrEntryRejected     = &Error{Kind: KindValidation, Code: "entry_rejected", Message: "ticket could not be validated"}
	ErrNotPending        = &Error{Kind: KindConflict, Code: "payment_not_pending", Message: "ticket payment is not pending"}
)

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
