package ticket

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/kerr"
)

func signTestTicket(t *testing.T, key []byte, claims wireClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestDecodeValidTicket(t *testing.T) {
	key := []byte("test-key")
	bandwidth := uint64(4096)
	raw := signTestTicket(t, key, wireClaims{
		Role: "worker-bus",
		Scopes: []wireScope{
			{Path: "/bus/events", Verb: "read", RatePerS: 10},
		},
		Quotas:     wireQuotas{BandwidthBytes: &bandwidth},
		IssuedAtMs: 1000,
	})

	dec := NewDecoder(key)
	claims, err := dec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, RoleWorkerBus, claims.Role)
	require.Len(t, claims.Scopes, 1)
	assert.Equal(t, "/bus/events", claims.Scopes[0].Path)
	assert.Equal(t, VerbRead, claims.Scopes[0].Verb)
	assert.Nil(t, claims.TTLSeconds)
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	raw := signTestTicket(t, []byte("key-a"), wireClaims{Role: "queen"})
	dec := NewDecoder([]byte("key-b"))
	_, err := dec.Decode(raw)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidClaims))
}

func TestDecodeRejectsUnknownRole(t *testing.T) {
	raw := signTestTicket(t, []byte("k"), wireClaims{Role: "overlord"})
	dec := NewDecoder([]byte("k"))
	_, err := dec.Decode(raw)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidClaims))
}

func TestDecodeTreatsZeroTTLAsAbsent(t *testing.T) {
	zero := uint64(0)
	raw := signTestTicket(t, []byte("k"), wireClaims{Role: "queen", TTLSeconds: &zero})
	dec := NewDecoder([]byte("k"))
	claims, err := dec.Decode(raw)
	require.NoError(t, err)
	assert.Nil(t, claims.TTLSeconds)
}

func TestClaimsExpired(t *testing.T) {
	ttl := uint64(60)
	claims := Claims{IssuedAtMs: 1_000_000, TTLSeconds: &ttl}

	assert.False(t, claims.Expired(1_000_000+59_000))
	assert.True(t, claims.Expired(1_000_000+60_000))
}

func TestClaimsNeverExpiresWithoutTTL(t *testing.T) {
	claims := Claims{IssuedAtMs: 0}
	assert.False(t, claims.Expired(1<<40))
}
