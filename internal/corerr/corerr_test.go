package corerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := New(Unavailable, errors.New("no rooms"))
	wrapped := fmt.Errorf("create reservation: %w", base)

	ce, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, Unavailable, ce.KindValue())
}

func TestAsReportsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("boom"))
	require.False(t, ok)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
	require.Equal(t, Internal, KindOf(nil))
}

func TestKindOfReturnsWrappedKind(t *testing.T) {
	err := New(BidTooLow, nil)
	require.Equal(t, BidTooLow, KindOf(err))
}

func TestWrapUnavailableCarriesAvailableRooms(t *testing.T) {
	err := WrapUnavailable(2)
	require.Equal(t, Unavailable, err.KindValue())
	require.Equal(t, 2, err.AvailableRooms)
	require.Contains(t, err.Error(), "2 available")
}

func TestWrapBidTooLowCarriesMinimum(t *testing.T) {
	err := WrapBidTooLow(150)
	require.Equal(t, BidTooLow, err.KindValue())
	require.Equal(t, int64(150), err.Minimum)
}

func TestWrapRateLimitedCarriesRetryAfter(t *testing.T) {
	err := WrapRateLimited(5000)
	require.Equal(t, RateLimited, err.KindValue())
	require.Equal(t, int64(5000), err.RetryAfterMS)
}

func TestErrorStringWithoutCauseIsBareKind(t *testing.T) {
	err := Newf(Conflict, "version mismatch")
	require.Equal(t, "Conflict: version mismatch", err.Error())

	bare := &Error{kind: Forbidden}
	require.Equal(t, "Forbidden", bare.Error())
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Internal, cause)
	require.Equal(t, cause, errors.Unwrap(err))
}
