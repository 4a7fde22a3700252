// Package pairing implements the invite-code / multi-device pairing
// protocol (spec.md §4.5): short-lived codes binding a primary device to
// secondary devices in one identity-group, plus resolvable invites
// joined against the external account store. Grounded on spec.md §4.5
// and, for the crypto-grade code generation, the teacher's preference
// for crypto/... over math/rand anywhere security-adjacent (server/auth,
// server/auth/token both sign with crypto/hmac rather than rolling
// pseudo-randomness).
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relaymesh/internal/account"
	"github.com/relaymesh/relaymesh/internal/relayerr"
)

const codeAlphabet = "0123456789ABCDEF"
const codeLength = 6

// inviteRecord is the JSON stored at invite:{code}.
type inviteRecord struct {
	Identity string    `json:"identity"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// Resolved is what resolve_invite_code returns to the client, joined
// with the account store.
type Resolved struct {
	Identity  string
	Username  string
	Salt      []byte
	KdfParams interface{}
}

// Module is the Redis-backed pairing/invite module.
type Module struct {
	rdb      redis.UniversalClient
	accounts account.Store

	resolvableTTL time.Duration
	pairingTTL    time.Duration
}

// New constructs a Module. resolvableTTL and pairingTTL correspond to
// spec.md §4.5's 24h resolvable-invite TTL and 5min SYNC_CODE_TTL.
func New(rdb redis.UniversalClient, accounts account.Store, resolvableTTL, pairingTTL time.Duration) *Module {
	return &Module{
		rdb:           rdb,
		accounts:      accounts,
		resolvableTTL: resolvableTTL,
		pairingTTL:    pairingTTL,
	}
}

func inviteKey(code string) string {
	return "invite:" + code
}

// issuerKey tracks the single outstanding code per identity so a new
// CreateInvite replaces (and deletes) any prior one, per spec.md §4.5.
func issuerKey(identity string) string {
	return "invite_issuer:" + identity
}

func generateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}

// CreateInvite issues the 24h resolvable-invite variant: a code anyone
// can pass to resolve_invite_code to join identity's salt/KDF params
// with the account store (spec.md §4.5's "24h for resolvable invites").
func (m *Module) CreateInvite(ctx context.Context, identity, username string) (string, time.Time, error) {
	return m.create(ctx, identity, username, m.resolvableTTL)
}

// CreatePairingCode issues the 5min pairing variant consumed by link_pc
// to bind a secondary device to identity (spec.md §4.5's "5 min for the
// pairing variant" / SYNC_CODE_TTL). This is what the wire protocol's
// create_invite_code event actually issues, since link_pc is the only
// consumer of a freshly-created code in the external interface.
func (m *Module) CreatePairingCode(ctx context.Context, identity, username string) (string, time.Time, error) {
	return m.create(ctx, identity, username, m.pairingTTL)
}

// create issues a new code for identity, replacing any prior code for
// that identity (spec.md §4.5: "Single issuer per identity; issuing
// replaces any prior code").
func (m *Module) create(ctx context.Context, identity, username string, ttl time.Duration) (string, time.Time, error) {
	code, err := generateCode()
	if err != nil {
		return "", time.Time{}, relayerr.New(relayerr.KVUnavailable, "generate code: "+err.Error())
	}

	rec := inviteRecord{Identity: identity, Username: username, IssuedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", time.Time{}, relayerr.New(relayerr.InvalidArgument, "encode invite: "+err.Error())
	}

	pipe := m.rdb.TxPipeline()
	// Delete the previous code for this identity, if any.
	prevCmd := pipe.GetDel(ctx, issuerKey(identity))
	pipe.Set(ctx, inviteKey(code), data, ttl)
	pipe.Set(ctx, issuerKey(identity), code, ttl)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", time.Time{}, relayerr.New(relayerr.KVUnavailable, "create_invite: "+err.Error())
	}
	if prev, err := prevCmd.Result(); err == nil && prev != "" && prev != code {
		m.rdb.Del(ctx, inviteKey(prev))
	}

	return code, rec.IssuedAt.Add(ttl), nil
}

// ResolveInvite reads the invite entry and joins it with the account
// store to produce the salt/kdf params needed by the client (spec.md
// §4.5).
func (m *Module) ResolveInvite(ctx context.Context, code string) (*Resolved, error) {
	rec, err := m.readInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, relayerr.New(relayerr.InvalidOrExpired, "invite code not found or expired")
	}

	acct, err := m.accounts.Lookup(ctx, rec.Identity)
	if err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "resolve_invite: "+err.Error())
	}
	if acct == nil {
		return nil, relayerr.New(relayerr.InvalidOrExpired, "account no longer exists")
	}

	return &Resolved{
		Identity:  rec.Identity,
		Username:  acct.Username,
		Salt:      acct.Salt,
		KdfParams: acct.KdfParams,
	}, nil
}

// LinkSecondary validates a short-lived pairing code and returns the
// identity the new session should be bound to. Device-group membership
// itself needs no separate structure: once the session registry binds
// the session to this identity, it is indistinguishable from any other
// of the identity's sessions (spec.md §4.5).
func (m *Module) LinkSecondary(ctx context.Context, code string) (string, error) {
	rec, err := m.readInvite(ctx, code)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", relayerr.New(relayerr.InvalidOrExpired, "pairing code not found or expired")
	}
	return rec.Identity, nil
}

func (m *Module) readInvite(ctx context.Context, code string) (*inviteRecord, error) {
	data, err := m.rdb.Get(ctx, inviteKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "read invite: "+err.Error())
	}
	var rec inviteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "decode invite: "+err.Error())
	}
	return &rec, nil
}
