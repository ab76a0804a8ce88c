package breaker_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"quotebot/internal/provider"
	"quotebot/internal/provider/breaker"
	"quotebot/internal/provider/providertest"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	// Arrange: the upstream is down; only two calls may reach it.
	ctrl := gomock.NewController(t)
	inner := providertest.NewMockProvider(ctrl)
	inner.EXPECT().Name().Return("cg").AnyTimes()
	inner.EXPECT().
		Fetch(gomock.Any(), gomock.Any()).
		Return(provider.Unavailable("cg", provider.ErrTransport)).
		Times(2)

	var transitions []string
	b := breaker.New(inner, breaker.Settings{
		Failures:    2,
		OpenTimeout: time.Hour,
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	}, nil)
	req := provider.NewRequest(provider.KindCrypto, []string{"BTC"}, "USD")

	// Act
	b.Fetch(t.Context(), req)
	b.Fetch(t.Context(), req)
	o := b.Fetch(t.Context(), req)

	// Assert: the third call short-circuits.
	require.Equal(t, provider.StatusUnavailable, o.Status)
	require.ErrorIs(t, o.Err, provider.ErrTransport)
	require.Equal(t, "open", b.State())
	require.Equal(t, []string{"closed->open"}, transitions)
}

func TestMalformedUnsupportedAndThrottledDoNotTrip(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := providertest.NewMockProvider(ctrl)
	inner.EXPECT().Name().Return("cg").AnyTimes()
	gomock.InOrder(
		inner.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Malformed("cg", errors.New("bad"))),
		inner.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Unsupported("cg", "history")),
		inner.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Malformed("cg", errors.New("bad"))),
		inner.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.RateLimited("cg", 5*time.Second, true,
			fmt.Errorf("%w: %w", provider.ErrRateLimited, provider.ErrThrottled))),
	)
	b := breaker.New(inner, breaker.Settings{Failures: 1}, nil)
	req := provider.NewRequest(provider.KindCrypto, []string{"BTC"}, "USD")

	// Act
	for i := 0; i < 4; i++ {
		o := b.Fetch(t.Context(), req)
		require.NotEqual(t, provider.StatusSuccess, o.Status)
	}

	// Assert
	require.Equal(t, "closed", b.State())
}
