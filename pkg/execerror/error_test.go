package execerror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
)

func callRecovered(f func()) (err error) {
	defer execerror.Recover(&err)
	f()
	return nil
}

func TestRecoverConvertsPlainPanicToKindPanic(t *testing.T) {
	err := callRecovered(func() { panic("boom") })
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindPanic, execErr.Kind)
	require.Contains(t, execErr.Description, "boom")
}

func TestRecoverRethrowsFatalUntouched(t *testing.T) {
	require.PanicsWithValue(t, execerror.Fatal{Reason: "state diverged"}, func() {
		_ = callRecovered(func() { execerror.Raise("state diverged", nil) })
	})
}

func TestRecoverReturnsNilWhenNoPanic(t *testing.T) {
	err := callRecovered(func() {})
	require.NoError(t, err)
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := execerror.New(execerror.KindIncorrectInstanceID, "no instance %d", 7)
	b := execerror.New(execerror.KindIncorrectInstanceID, "no instance %d", 9)
	require.True(t, errors.Is(a, b))

	c := execerror.Service(1, 2, "insufficient funds")
	require.False(t, errors.Is(a, c))
}

func TestServiceErrorCarriesRuntimeAndCode(t *testing.T) {
	err := execerror.Service(3, 42, "wallet %s missing", "abc")
	require.Equal(t, execerror.KindService, err.Kind)
	require.EqualValues(t, 3, err.RuntimeID)
	require.EqualValues(t, 42, err.Code)
	require.Contains(t, err.Error(), "wallet abc missing")
}

func TestFatalErrorFormatsWrappedErr(t *testing.T) {
	wrapped := errors.New("store closed")
	f := execerror.Fatal{Reason: "commit failed", Err: wrapped}
	require.Contains(t, f.Error(), "commit failed")
	require.Contains(t, f.Error(), "store closed")
}
