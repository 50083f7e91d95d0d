package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/apperrors"
)

func TestFromErrClassifiesAdapterUnavailable(t *testing.T) {
	err := apperrors.New(apperrors.KindAdapterUnavailable, "upstream down")
	out := fromErr("quality_adapter", err)
	require.Equal(t, OutcomeAdapterUnavailable, out.Kind)
	require.Equal(t, apperrors.KindAdapterUnavailable, apperrors.KindOf(out.ToError()))
}

func TestFromErrClassifiesCancelled(t *testing.T) {
	err := apperrors.New(apperrors.KindCancelled, "context done")
	out := fromErr("wait", err)
	require.Equal(t, OutcomeCancelled, out.Kind)
}

func TestFromErrDefaultsToPreconditionFailed(t *testing.T) {
	err := apperrors.New(apperrors.KindValidation, "bad input")
	out := fromErr("validate", err)
	require.Equal(t, OutcomePreconditionFailed, out.Kind)
}

func TestGateBlockedToError(t *testing.T) {
	out := gateBlocked("open_interventions_block_finalization")
	err := out.ToError()
	require.Equal(t, apperrors.KindGateBlocked, apperrors.KindOf(err))
}

func TestOKOutcomeHasNilError(t *testing.T) {
	require.Nil(t, ok().ToError())
}
