package securechannel

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	goerrors "github.com/go-errors/errors"
)

// NodeId identifies a peer a channel is established with.
type NodeId uint64

// lenPrefixSize is the size in bytes of each length prefix in the signed
// public blob: a 64-bit little-endian length, fixed regardless of host
// size_t width (spec §4.5 requires this be pinned to 64 bits).
const lenPrefixSize = 8

// Manager lazily creates and exclusively owns all Channel instances, keyed
// by peer NodeId. It produces and verifies the signed-public blob exchanged
// during bootstrap and wraps channel AEAD operations around outbound and
// inbound consensus frames.
type Manager struct {
	mu       sync.RWMutex
	channels map[NodeId]*Channel

	networkPriv *btcec.PrivateKey
	networkPub  *btcec.PublicKey
}

// NewManager constructs a Manager that signs outgoing public keys with
// networkKey, the key shared across the cluster during bootstrap.
func NewManager(networkKey *btcec.PrivateKey) *Manager {
	return &Manager{
		channels:    make(map[NodeId]*Channel),
		networkPriv: networkKey,
		networkPub:  networkKey.PubKey(),
	}
}

// get returns the channel for peer, lazily creating it in INITIATED state on
// first reference.
func (m *Manager) get(peer NodeId) (*Channel, error) {
	m.mu.RLock()
	ch, ok := m.channels[peer]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[peer]; ok {
		return ch, nil
	}
	ch, err := NewChannel()
	if err != nil {
		return nil, err
	}
	m.channels[peer] = ch
	return ch, nil
}

// GetSignedPublic returns the local channel's ephemeral public key for peer,
// concatenated with a signature over it by the network keypair, both
// length-prefixed per spec §4.5. It returns (nil, false) if the channel for
// peer is already ESTABLISHED (there is no public key left to hand out).
func (m *Manager) GetSignedPublic(peer NodeId) ([]byte, bool, error) {
	ch, err := m.get(peer)
	if err != nil {
		return nil, false, err
	}

	ownPublic, ok := ch.GetPublic()
	if !ok {
		return nil, false, nil
	}

	digest := sha256.Sum256(ownPublic)
	sig := ecdsa.Sign(m.networkPriv, digest[:])
	sigBytes := sig.Serialize()

	buf := make([]byte, lenPrefixSize+len(ownPublic)+lenPrefixSize+len(sigBytes))
	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(ownPublic)))
	offset += lenPrefixSize
	offset += copy(buf[offset:], ownPublic)
	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(sigBytes)))
	offset += lenPrefixSize
	copy(buf[offset:], sigBytes)

	return buf, true, nil
}

// LoadPeerSignedPublic parses a peer's signed-public blob (produced by its
// own GetSignedPublic), verifies the signature against the network public
// key, loads the peer's ephemeral public key into its channel, and
// establishes the session. It returns false (without mutating channel
// state beyond what LoadPeerPublic already guards) on any malformed blob or
// signature-verification failure.
func (m *Manager) LoadPeerSignedPublic(peer NodeId, blob []byte) (bool, error) {
	peerPublic, sig, err := parseSignedPublic(blob)
	if err != nil {
		log.Warnf("malformed signed public from %d: %v", peer, err)
		return false, nil
	}

	digest := sha256.Sum256(peerPublic)
	if !sig.Verify(digest[:], m.networkPub) {
		log.Warnf("node2node peer signature verification failed for %d", peer)
		return false, nil
	}

	ch, err := m.get(peer)
	if err != nil {
		return false, err
	}

	if !ch.LoadPeerPublic(peerPublic) {
		return false, nil
	}
	if err := ch.Establish(); err != nil {
		return false, err
	}

	log.Infof("node2node channel with %d is now established", peer)
	return true, nil
}

// parseSignedPublic splits a signed-public blob into its (public, signature)
// parts, rejecting any blob whose declared sizes don't exactly consume the
// buffer (spec §4.5/§8 boundary scenarios 2-3).
func parseSignedPublic(blob []byte) ([]byte, *ecdsa.Signature, error) {
	if len(blob) < lenPrefixSize {
		return nil, nil, goerrors.New("signed public blob shorter than length prefix")
	}
	remaining := blob[lenPrefixSize:]
	pubLen := binary.LittleEndian.Uint64(blob[:lenPrefixSize])

	if pubLen > uint64(len(remaining)) {
		return nil, nil, goerrors.Errorf(
			"peer public key header wants %d bytes, but only %d remain", pubLen, len(remaining))
	}
	pub := remaining[:pubLen]
	remaining = remaining[pubLen:]

	if uint64(len(remaining)) < lenPrefixSize {
		return nil, nil, goerrors.New("signed public blob truncated before signature length prefix")
	}
	sigLen := binary.LittleEndian.Uint64(remaining[:lenPrefixSize])
	remaining = remaining[lenPrefixSize:]

	if sigLen > uint64(len(remaining)) {
		return nil, nil, goerrors.Errorf(
			"signature header wants %d bytes, but only %d remain", sigLen, len(remaining))
	}
	if sigLen < uint64(len(remaining)) {
		return nil, nil, goerrors.Errorf(
			"expected signature to use all remaining %d bytes, but only uses %d",
			len(remaining), sigLen)
	}

	sig, err := ecdsa.ParseDERSignature(remaining[:sigLen])
	if err != nil {
		return nil, nil, goerrors.Errorf("unparseable signature: %v", err)
	}

	return pub, sig, nil
}

// AuthenticatedSend encrypts frame under aad with peer's channel, returning
// the combined (header || ciphertext) bytes ready to put on the wire to
// peer, where header is the 8-byte little-endian nonce sequence number and
// ciphertext carries the AEAD tag appended. aad is authenticated but not
// encrypted.
func (m *Manager) AuthenticatedSend(peer NodeId, aad, frame []byte) ([]byte, error) {
	ch, err := m.get(peer)
	if err != nil {
		return nil, err
	}

	hdr, ciphertext, err := ch.Encrypt(aad, frame)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 8+len(ciphertext))
	binary.LittleEndian.PutUint64(out, hdr.SeqNo)
	copy(out[8:], ciphertext)
	return out, nil
}

// AuthenticatedRecv reverses AuthenticatedSend: it splits the header off
// data, decrypts the remainder against aad using peer's channel, and
// returns the recovered frame. It returns an error if the channel is not
// ESTABLISHED or the data is too short to contain a header.
func (m *Manager) AuthenticatedRecv(peer NodeId, aad, data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, goerrors.New("authenticated frame shorter than header")
	}
	hdr := FrameHeader{SeqNo: binary.LittleEndian.Uint64(data[:8])}

	ch, err := m.get(peer)
	if err != nil {
		return nil, err
	}

	plaintext, ok, err := ch.Decrypt(hdr, aad, data[8:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, goerrors.New("authenticated frame failed tag verification")
	}
	return plaintext, nil
}
