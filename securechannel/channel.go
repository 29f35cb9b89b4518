// Package securechannel establishes a pairwise authenticated, encrypted
// session between two nodes via ephemeral ECDH signed by a network-wide
// key, then provides sequence-numbered AEAD tagging/encryption for every
// consensus frame sent across it. It is the Go restatement of the source's
// channels.h, generalised from CCF's mbedTLS ECDH + AES-GCM pairing into the
// teacher's own dependency graph: secp256k1 ECDH via btcec (as used for
// every other signature in the teacher's gossip layer) and ChaCha20-Poly1305
// AEAD via golang.org/x/crypto (the same library family the teacher's own,
// unretrieved brontide transport is built on).
package securechannel

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-errors/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Status is the per-peer channel lifecycle state, per spec §3/§4.4.
type Status int

const (
	// Initiated is the initial state: an ephemeral key-exchange context
	// exists and no AEAD key has been derived yet.
	Initiated Status = iota

	// Established is the terminal state: the AEAD key has been derived
	// and the key-exchange context has been freed.
	Established
)

// ErrChannelNotEstablished is returned by Tag/Verify/Encrypt/Decrypt when
// called outside Established. Spec §7 classifies this as a fatal
// precondition violation; this package surfaces it as a distinguished error
// rather than panicking, because a channel racing its own handshake against
// a concurrent send is a normal runtime occurrence on the networking-thread
// boundary described in spec §5, not solely evidence of a programming bug.
var ErrChannelNotEstablished = errors.New("securechannel: channel is not established")

// FrameHeader carries the per-frame sequence number used as the AEAD nonce
// source. It is authenticated implicitly (it determines the nonce) but is
// not itself encrypted.
type FrameHeader struct {
	SeqNo uint64
}

// nonce expands the sequence number into a chacha20poly1305.NonceSize-byte
// nonce: four zero bytes followed by the big-endian sequence number.
func (h FrameHeader) nonce() [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(n[chacha20poly1305.NonceSize-8:], h.SeqNo)
	return n
}

// keyExchangeContext holds the ephemeral ECDH keypair. It is only valid
// while the owning Channel is Initiated; Channel.Establish discards it.
type keyExchangeContext struct {
	priv     *btcec.PrivateKey
	peerPub  *btcec.PublicKey
}

func newKeyExchangeContext() (*keyExchangeContext, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &keyExchangeContext{priv: priv}, nil
}

func (k *keyExchangeContext) ownPublic() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Channel is a single peer's secure-channel state machine: INITIATED ->
// ESTABLISHED exactly once, when the peer's ephemeral public key has been
// loaded and the shared secret computed. There is no re-keying path.
type Channel struct {
	mu     sync.Mutex
	status Status
	ctx    *keyExchangeContext

	aead  cipher.AEAD
	seqNo uint64 // atomic; nonce source for outbound operations
}

// NewChannel creates a channel in the INITIATED state with a fresh
// ephemeral keypair. Channels are created lazily by Manager on first
// reference to a peer; callers should not normally construct one directly.
func NewChannel() (*Channel, error) {
	ctx, err := newKeyExchangeContext()
	if err != nil {
		return nil, err
	}
	return &Channel{status: Initiated, ctx: ctx}, nil
}

// GetPublic returns the local side's ephemeral public key while INITIATED.
// It returns (nil, false) once ESTABLISHED, since the key-exchange context
// has already been freed.
func (c *Channel) GetPublic() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Established {
		return nil, false
	}
	return c.ctx.ownPublic(), true
}

// Status returns the channel's current lifecycle state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LoadPeerPublic loads the peer's ephemeral public key. It is refused (and
// returns false) once the channel is ESTABLISHED.
func (c *Channel) LoadPeerPublic(peerPublic []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Established {
		return false
	}

	pub, err := btcec.ParsePubKey(peerPublic)
	if err != nil {
		return false
	}
	c.ctx.peerPub = pub
	return true
}

// Establish computes the ECDH shared secret against the loaded peer public
// key, derives the AEAD key from it, frees the key-exchange context, and
// moves the channel to ESTABLISHED. Callers must have already called
// LoadPeerPublic successfully.
func (c *Channel) Establish() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Established {
		return nil
	}
	if c.ctx.peerPub == nil {
		return errors.New("securechannel: cannot establish without a loaded peer public key")
	}

	peerECDSA := c.ctx.peerPub.ToECDSA()
	x, _ := btcec.S256().ScalarMult(peerECDSA.X, peerECDSA.Y, c.ctx.priv.Serialize())
	sharedSecret := sha256.Sum256(x.Bytes())

	aead, err := chacha20poly1305.New(sharedSecret[:])
	if err != nil {
		return err
	}
	c.aead = aead
	c.ctx = nil
	c.status = Established
	return nil
}

// FreeContext discards the ephemeral key-exchange context once the channel
// is ESTABLISHED. It is safe to call at any point in the handshake: it is a
// no-op while INITIATED, and a no-op once the context is already gone,
// matching the source's free_ctx idempotency (supplemented from
// original_source/channels.h).
func (c *Channel) FreeContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Established {
		return
	}
	c.ctx = nil
}

// nextNonce acquires a fresh nonce by atomic fetch-add on seqNo. Outbound
// operations on a channel are nonce-ordered; network delivery order is not
// guaranteed, and the replica core tolerates reordering (spec §5).
func (c *Channel) nextNonce() FrameHeader {
	return FrameHeader{SeqNo: atomic.AddUint64(&c.seqNo, 1) - 1}
}

// Tag authenticates aad against an empty plaintext, returning the header
// carrying the nonce used and the resulting tag.
func (c *Channel) Tag(aad []byte) (FrameHeader, []byte, error) {
	c.mu.Lock()
	established := c.status == Established
	aead := c.aead
	c.mu.Unlock()

	if !established {
		return FrameHeader{}, nil, ErrChannelNotEstablished
	}

	hdr := c.nextNonce()
	nonce := hdr.nonce()
	tag := aead.Seal(nil, nonce[:], nil, aad)
	return hdr, tag, nil
}

// Verify checks a tag produced by the peer's Tag call for the given header
// and aad.
func (c *Channel) Verify(hdr FrameHeader, aad []byte, tag []byte) (bool, error) {
	c.mu.Lock()
	established := c.status == Established
	aead := c.aead
	c.mu.Unlock()

	if !established {
		return false, ErrChannelNotEstablished
	}

	nonce := hdr.nonce()
	_, err := aead.Open(nil, nonce[:], tag, aad)
	return err == nil, nil
}

// Encrypt seals plaintext under aad, returning the header carrying the
// nonce used and the ciphertext (with the authentication tag appended).
func (c *Channel) Encrypt(aad, plaintext []byte) (FrameHeader, []byte, error) {
	c.mu.Lock()
	established := c.status == Established
	aead := c.aead
	c.mu.Unlock()

	if !established {
		return FrameHeader{}, nil, ErrChannelNotEstablished
	}

	hdr := c.nextNonce()
	nonce := hdr.nonce()
	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)
	return hdr, ciphertext, nil
}

// Decrypt opens ciphertext (with its trailing authentication tag) under
// aad. On tag mismatch it returns (nil, false, nil) and never writes
// plaintext.
func (c *Channel) Decrypt(hdr FrameHeader, aad, ciphertext []byte) ([]byte, bool, error) {
	c.mu.Lock()
	established := c.status == Established
	aead := c.aead
	c.mu.Unlock()

	if !established {
		return nil, false, ErrChannelNotEstablished
	}

	nonce := hdr.nonce()
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, false, nil
	}
	return plaintext, true, nil
}
