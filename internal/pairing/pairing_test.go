package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/account"
	"github.com/relaymesh/relaymesh/internal/relayerr"
)

func newTestModule(t *testing.T) (*Module, account.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	accounts := account.NewMemoryStore()
	return New(rdb, accounts, 24*time.Hour, 5*time.Minute), accounts
}

func TestCreateAndResolveInvite(t *testing.T) {
	m, accounts := newTestModule(t)
	ctx := context.Background()

	require.NoError(t, accounts.Register(ctx, account.Record{
		Identity: "alice", Username: "alice", Salt: []byte("salt"),
	}))

	code, expiresAt, err := m.CreateInvite(ctx, "alice", "alice")
	require.NoError(t, err)
	require.Len(t, code, codeLength)
	require.True(t, expiresAt.After(time.Now()))

	resolved, err := m.ResolveInvite(ctx, code)
	require.NoError(t, err)
	require.Equal(t, "alice", resolved.Identity)
	require.Equal(t, "alice", resolved.Username)
}

func TestResolveUnknownCode(t *testing.T) {
	m, _ := newTestModule(t)
	_, err := m.ResolveInvite(context.Background(), "FFFFFF")
	re, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, relayerr.InvalidOrExpired, re.Kind)
}

func TestIssuingReplacesPriorCode(t *testing.T) {
	m, accounts := newTestModule(t)
	ctx := context.Background()
	require.NoError(t, accounts.Register(ctx, account.Record{Identity: "alice", Username: "alice"}))

	first, _, err := m.CreateInvite(ctx, "alice", "alice")
	require.NoError(t, err)

	second, _, err := m.CreateInvite(ctx, "alice", "alice")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = m.ResolveInvite(ctx, first)
	re, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, relayerr.InvalidOrExpired, re.Kind, "the superseded code must no longer resolve")

	resolved, err := m.ResolveInvite(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "alice", resolved.Identity)
}

func TestLinkSecondaryReturnsIdentity(t *testing.T) {
	m, accounts := newTestModule(t)
	ctx := context.Background()
	require.NoError(t, accounts.Register(ctx, account.Record{Identity: "alice", Username: "alice"}))

	code, _, err := m.CreatePairingCode(ctx, "alice", "alice")
	require.NoError(t, err)

	identity, err := m.LinkSecondary(ctx, code)
	require.NoError(t, err)
	require.Equal(t, "alice", identity)
}

func TestPairingCodeUsesShorterTTLThanResolvableInvite(t *testing.T) {
	m, accounts := newTestModule(t)
	ctx := context.Background()
	require.NoError(t, accounts.Register(ctx, account.Record{Identity: "alice", Username: "alice"}))

	_, inviteExpiry, err := m.CreateInvite(ctx, "alice", "alice")
	require.NoError(t, err)

	_, pairingExpiry, err := m.CreatePairingCode(ctx, "alice", "alice")
	require.NoError(t, err)

	require.True(t, pairingExpiry.Before(inviteExpiry),
		"the 5min pairing variant must expire well before the 24h resolvable-invite variant")
}
