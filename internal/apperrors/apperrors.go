// Package apperrors defines the error-kind taxonomy shared across the
// evaluation pipeline and maps it to HTTP status codes at the request
// boundary. Kinds are sentinel values wrapped with cockroachdb/errors so
// callers can test with errors.Is while still carrying structured detail.
package apperrors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind enumerates the error taxonomy. Kind itself is never returned to a
// caller; it is attached to a wrapped error and read back out with KindOf.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPreconditionFailed
	KindGateBlocked
	KindAdapterUnavailable
	KindChainIntegrityError
	KindChainStale
	KindSignatureInsufficient
	KindCancelled
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindGateBlocked:
		return "GateBlocked"
	case KindAdapterUnavailable:
		return "AdapterUnavailable"
	case KindChainIntegrityError:
		return "ChainIntegrityError"
	case KindChainStale:
		return "ChainStale"
	case KindSignatureInsufficient:
		return "SignatureInsufficient"
	case KindCancelled:
		return "Cancelled"
	case KindNotFound:
		return "NotFound"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps a Kind to the status code vocabulary of the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed, KindChainStale:
		return http.StatusConflict
	case KindGateBlocked:
		return http.StatusUnprocessableEntity
	case KindAdapterUnavailable:
		return http.StatusServiceUnavailable
	case KindSignatureInsufficient:
		return http.StatusConflict
	case KindCancelled:
		return http.StatusBadRequest
	case KindChainIntegrityError, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type kindMark struct {
	kind Kind
}

func (k kindMark) Error() string { return "errkind:" + k.kind.String() }

// New creates an error with message msg, marked with kind.
func New(kind Kind, msg string) error {
	return errors.Mark(errors.Newf("%s", msg), kindMark{kind})
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kindMark{kind})
}

// Wrap attaches kind to an existing error, preserving its cause chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), kindMark{kind})
}

// KindOf extracts the Kind attached by New/Wrap, or KindUnknown if none.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, candidate := range []Kind{
		KindValidation, KindPreconditionFailed, KindGateBlocked,
		KindAdapterUnavailable, KindChainIntegrityError, KindChainStale,
		KindSignatureInsufficient, KindCancelled, KindNotFound, KindInternal,
	} {
		if errors.Is(err, kindMark{candidate}) {
			return candidate
		}
	}
	return KindUnknown
}

// Details is a structured error payload mirroring the {code, message,
// details?} response shape of the HTTP surface.
type Details struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"details,omitempty"`
}

// ToDetails renders err into the wire shape, attaching extra as the
// optional detail payload.
func ToDetails(err error, extra interface{}) Details {
	return Details{
		Code:    KindOf(err).String(),
		Message: err.Error(),
		Detail:  extra,
	}
}

var (
	ErrNotFound              = New(KindNotFound, "not found")
	ErrValidation             = New(KindValidation, "validation failed")
	ErrPreconditionFailed     = New(KindPreconditionFailed, "precondition failed")
	ErrGateBlocked            = New(KindGateBlocked, "gate blocked")
	ErrAdapterUnavailable     = New(KindAdapterUnavailable, "adapter unavailable")
	ErrChainIntegrity         = New(KindChainIntegrityError, "chain integrity error")
	ErrChainStale             = New(KindChainStale, "chain stale")
	ErrSignatureInsufficient  = New(KindSignatureInsufficient, "signature insufficient")
	ErrCancelled              = New(KindCancelled, "cancelled")
)
