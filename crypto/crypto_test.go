package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, pub, priv.Public())

	sig := priv.Sign([]byte("bid"))
	require.NoError(t, pub.Verify([]byte("bid"), sig))
	assert.ErrorIs(t, pub.Verify([]byte("bid!"), sig), ErrBadSignature)
	assert.ErrorIs(t, pub.Verify([]byte("bid"), sig[:10]), ErrBadSignature)
	assert.Error(t, pub.Verify([]byte("bid"), "zz"))

	parsed, err := PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
	_, err = PubKeyFromHex(pub.Hex()[:10])
	assert.Error(t, err)

	back, err := PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	assert.Equal(t, priv, back)
}

func TestDeriveIDAndAddresses(t *testing.T) {
	id := DeriveID("tx1", "auction")
	assert.Equal(t, Hash([]byte("tx1:auction")), id)
	assert.NotEqual(t, id, DeriveID("tx1", "token"))
	require.NoError(t, ValidateAddress(id))

	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, ValidateAddress(pub.Hex()))

	assert.Error(t, ValidateAddress("deadbeef"))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress(string(make([]byte, AddressLen))))
}
