package securechannel_test

import (
	"testing"

	"github.com/ccfnode/pbftadapter/securechannel"
	"github.com/stretchr/testify/require"
)

// establishPair runs the full key exchange between two fresh channels and
// returns them both ESTABLISHED, exercising the same path Manager drives.
func establishPair(t *testing.T) (a, b *securechannel.Channel) {
	t.Helper()

	a, err := securechannel.NewChannel()
	require.NoError(t, err)
	b, err = securechannel.NewChannel()
	require.NoError(t, err)

	aPub, ok := a.GetPublic()
	require.True(t, ok)
	bPub, ok := b.GetPublic()
	require.True(t, ok)

	require.True(t, a.LoadPeerPublic(bPub))
	require.True(t, b.LoadPeerPublic(aPub))

	require.NoError(t, a.Establish())
	require.NoError(t, b.Establish())

	require.Equal(t, securechannel.Established, a.Status())
	require.Equal(t, securechannel.Established, b.Status())

	return a, b
}

func TestChannelEncryptDecryptRoundTrip(t *testing.T) {
	a, b := establishPair(t)

	aad := []byte("consensus-envelope")
	plaintext := []byte("pre-prepare view=3 seqno=9")

	hdr, ciphertext, err := a.Encrypt(aad, plaintext)
	require.NoError(t, err)

	got, ok, err := b.Decrypt(hdr, aad, ciphertext)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, plaintext, got)
}

func TestChannelDecryptRejectsBitFlip(t *testing.T) {
	a, b := establishPair(t)

	hdr, ciphertext, err := a.Encrypt([]byte("aad"), []byte("payload"))
	require.NoError(t, err)

	flipped := append([]byte(nil), ciphertext...)
	flipped[0] ^= 0x01

	got, ok, err := b.Decrypt(hdr, []byte("aad"), flipped)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestChannelTagVerifyRoundTrip(t *testing.T) {
	a, b := establishPair(t)

	aad := []byte("heartbeat")
	hdr, tag, err := a.Tag(aad)
	require.NoError(t, err)

	ok, err := b.Verify(hdr, aad, tag)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChannelOperationsFailBeforeEstablished(t *testing.T) {
	ch, err := securechannel.NewChannel()
	require.NoError(t, err)

	_, _, err = ch.Encrypt(nil, []byte("x"))
	require.ErrorIs(t, err, securechannel.ErrChannelNotEstablished)

	_, _, err = ch.Tag(nil)
	require.ErrorIs(t, err, securechannel.ErrChannelNotEstablished)
}

func TestChannelNoncesAreMonotonic(t *testing.T) {
	a, b := establishPair(t)

	hdr1, ct1, err := a.Encrypt(nil, []byte("one"))
	require.NoError(t, err)
	hdr2, ct2, err := a.Encrypt(nil, []byte("two"))
	require.NoError(t, err)

	require.Less(t, hdr1.SeqNo, hdr2.SeqNo)

	got1, ok, err := b.Decrypt(hdr1, nil, ct1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("one"), got1)

	got2, ok, err := b.Decrypt(hdr2, nil, ct2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("two"), got2)
}
