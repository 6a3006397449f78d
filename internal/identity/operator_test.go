package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorFromSecret_MatchesNostrDerivation(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	want, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	op, err := OperatorFromSecret(sk + "\n")
	require.NoError(t, err)
	assert.Equal(t, want, op.PublicKey)
	assert.Equal(t, sk, op.PrivateKey)
	assert.True(t, op.CanSign())
}

func TestOperatorFromSecret_RejectsBadInput(t *testing.T) {
	_, err := OperatorFromSecret("zz")
	assert.Error(t, err)
	_, err = OperatorFromSecret("abcd")
	assert.Error(t, err)
}

func TestLoadOrCreateOperator_PersistsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "operator.key")

	first, err := LoadOrCreateOperator(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateOperator(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
}

func TestResolveOperator(t *testing.T) {
	pub := "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	op, err := ResolveOperator(pub, "")
	require.NoError(t, err)
	assert.Equal(t, pub, op.PublicKey)
	assert.False(t, op.CanSign())

	upper, err := ResolveOperator("79BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798", "")
	require.NoError(t, err)
	assert.Equal(t, pub, upper.PublicKey)

	keyed, err := ResolveOperator(pub, filepath.Join(t.TempDir(), "op.key"))
	require.NoError(t, err)
	assert.Equal(t, pub, keyed.PublicKey)
	assert.True(t, keyed.CanSign())

	_, err = ResolveOperator("", "")
	assert.Error(t, err)
	_, err = ResolveOperator("nothex", "")
	assert.Error(t, err)
}
