package signing_test

import (
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/orepool/operator/signing"
)

type Foo struct {
	s string
}

func (f *Foo) EncodeScale(enc *scale.Encoder) (int, error) {
	return scale.EncodeString(enc, f.s)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	data := Foo{s: "sign me"}
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(err)

	signed, err := signing.Sign(data, keypair)
	require.NoError(err)
	require.EqualValues(data, *signed.Data())
	require.Equal(keypair.PublicKey(), signed.Signer())

	signed2, err := signing.Verify(*signed.Data(), signed.Signature(), keypair.PublicKey())
	require.NoError(err)
	require.EqualValues(signed2.Data(), signed.Data())
}

func TestInvalidSignature(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(err)

	_, err = signing.Verify(Foo{s: "sign me"}, []byte{}, keypair.PublicKey())
	require.ErrorIs(err, signing.ErrSignatureInvalid)

	signed, err := signing.Sign(Foo{s: "sign me"}, keypair)
	require.NoError(err)
	_, err = signing.Verify(Foo{s: "sign you"}, signed.Signature(), keypair.PublicKey())
	require.ErrorIs(err, signing.ErrSignatureInvalid)

	other, err := signing.GenerateKeypair(nil)
	require.NoError(err)
	_, err = signing.Verify(Foo{s: "sign me"}, signed.Signature(), other.PublicKey())
	require.ErrorIs(err, signing.ErrSignatureInvalid)
}

func TestKeypairRoundTrip(t *testing.T) {
	t.Parallel()
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(t, err)

	restored, err := signing.NewKeypair(keypair.Bytes())
	require.NoError(t, err)
	require.Equal(t, keypair.PublicKey(), restored.PublicKey())

	_, err = signing.NewKeypair([]byte{1, 2, 3})
	require.ErrorIs(t, err, signing.ErrInvalidKeyLen)
}
