package orchestrator

import (
	"fmt"

	"github.com/omr-eval/pipeline/internal/apperrors"
)

// OutcomeKind is the sum-type tag of a StageOutcome: every stage function
// returns exactly one of these, so callers (the HTTP surface, via
// ToError) branch on it rather than inspecting an error chain.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomePreconditionFailed
	OutcomeGateBlocked
	OutcomeAdapterUnavailable
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomePreconditionFailed:
		return "precondition_failed"
	case OutcomeGateBlocked:
		return "gate_blocked"
	case OutcomeAdapterUnavailable:
		return "adapter_unavailable"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StageOutcome is what every stage transition function returns. Reason is a
// short machine-readable tag (e.g. "open_interventions", "signature_insufficient")
// for callers that want to branch without parsing Err's text.
type StageOutcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func ok() StageOutcome { return StageOutcome{Kind: OutcomeOK} }

func preconditionFailed(reason string, err error) StageOutcome {
	return StageOutcome{Kind: OutcomePreconditionFailed, Reason: reason, Err: err}
}

func gateBlocked(reason string) StageOutcome {
	return StageOutcome{Kind: OutcomeGateBlocked, Reason: reason}
}

func adapterUnavailable(reason string, err error) StageOutcome {
	return StageOutcome{Kind: OutcomeAdapterUnavailable, Reason: reason, Err: err}
}

func cancelled(reason string, err error) StageOutcome {
	return StageOutcome{Kind: OutcomeCancelled, Reason: reason, Err: err}
}

// fromErr classifies a generic error (typically from store/ledger/adapters)
// into a StageOutcome by reading its apperrors.Kind.
func fromErr(reason string, err error) StageOutcome {
	if err == nil {
		return ok()
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindAdapterUnavailable:
		return adapterUnavailable(reason, err)
	case apperrors.KindCancelled:
		return cancelled(reason, err)
	case apperrors.KindGateBlocked:
		return gateBlocked(reason)
	default:
		return preconditionFailed(reason, err)
	}
}

// ToError renders a non-OK StageOutcome back into an apperrors-kinded error,
// for callers (the HTTP surface) that just need a single error to map to a
// status code.
func (o StageOutcome) ToError() error {
	switch o.Kind {
	case OutcomeOK:
		return nil
	case OutcomeGateBlocked:
		return apperrors.Newf(apperrors.KindGateBlocked, "orchestrator: %s", o.Reason)
	case OutcomeAdapterUnavailable:
		return apperrors.Wrap(apperrors.KindAdapterUnavailable, o.Err, fmt.Sprintf("orchestrator: %s", o.Reason))
	case OutcomeCancelled:
		return apperrors.Wrap(apperrors.KindCancelled, o.Err, fmt.Sprintf("orchestrator: %s", o.Reason))
	default:
		if o.Err != nil {
			return apperrors.Wrap(apperrors.KindPreconditionFailed, o.Err, fmt.Sprintf("orchestrator: %s", o.Reason))
		}
		return apperrors.Newf(apperrors.KindPreconditionFailed, "orchestrator: %s", o.Reason)
	}
}
