package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64BigInt(v *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(v.Bytes())
}

func TestParseRSAPublicKey(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := parseRSAPublicKey(
		b64BigInt(key.N),
		b64BigInt(big.NewInt(int64(key.E))),
	)
	require.NoError(t, err)
	assert.Equal(t, key.E, pub.E)
	assert.Zero(t, key.N.Cmp(pub.N))
}

// An exponent wider than 31 bits would truncate when converted to int,
// yielding a key with a wrong exponent instead of the one the provider
// published. Such entries must be rejected so the JWKS loader skips
// them as malformed.
func TestParseRSAPublicKey_RejectsOversizedExponent(t *testing.T) {
	t.Parallel()

	n := b64BigInt(big.NewInt(0).SetInt64(987654321))
	huge := new(big.Int).Lsh(big.NewInt(1), 64)

	_, err := parseRSAPublicKey(n, b64BigInt(huge))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exponent out of range")
}

func TestParseRSAPublicKey_AcceptsMaxIntExponent(t *testing.T) {
	t.Parallel()

	n := b64BigInt(big.NewInt(987654321))
	max := big.NewInt(1<<31 - 1)

	pub, err := parseRSAPublicKey(n, b64BigInt(max))
	require.NoError(t, err)
	assert.Equal(t, 1<<31-1, pub.E)
}

func TestParseRSAPublicKey_RejectsZeroExponent(t *testing.T) {
	t.Parallel()

	n := b64BigInt(big.NewInt(987654321))

	// Zero-length exponent bytes decode to a zero big.Int.
	_, err := parseRSAPublicKey(n, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exponent out of range")
}

func TestParseRSAPublicKey_RejectsBadEncoding(t *testing.T) {
	t.Parallel()

	_, err := parseRSAPublicKey("!!!not-base64url!!!", "AQAB")
	require.Error(t, err)

	_, err = parseRSAPublicKey(b64BigInt(big.NewInt(987654321)), "!!!")
	require.Error(t, err)
}
