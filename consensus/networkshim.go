package consensus

import (
	"bytes"

	"github.com/ccfnode/pbftadapter/pbftwire"
	"github.com/ccfnode/pbftadapter/securechannel"
	"github.com/go-errors/errors"
)

// Ledger is the append-only local log the network shim replicates
// append-entries batches into, per spec §6.
type Ledger interface {
	// PutEntry appends data to the ledger without further processing.
	PutEntry(data []byte) error

	// RecordEntry stores data as the next ledger entry, returning a
	// handle the store can deserialise against and whether the entry
	// was well-formed.
	RecordEntry(data []byte) (handle []byte, ok bool)

	// Truncate discards every entry after prevIdx.
	Truncate(prevIdx Index) error

	// SkipEntry advances the ledger's read position past an
	// already-recorded entry without re-recording it.
	SkipEntry(data []byte) error
}

// DeserialiseResult is the outcome of Store.DeserialiseViews, mirroring the
// source's kv::DeserialiseSuccess.
type DeserialiseResult int

const (
	// DeserialiseFailed indicates corruption; spec §7 classifies this as
	// fatal.
	DeserialiseFailed DeserialiseResult = iota

	// DeserialisePass indicates the entry deserialised into an ordinary
	// transaction ready for playback.
	DeserialisePass

	// DeserialisePassSignature indicates the entry was a history
	// signature. Spec §7 classifies this as fatal under BFT consensus:
	// a history signature should never appear while PBFT is driving
	// ordering.
	DeserialisePassSignature
)

// Store is the key-value store the adapter compacts on global commit and
// deserialises ledger entries against during catch-up.
type Store interface {
	// CurrentVersion returns the store's current version.
	CurrentVersion() SeqNo

	// Compact discards versions before version.
	Compact(version SeqNo)

	// DeserialiseViews deserialises the entry referenced by handle.
	// publicOnly restricts deserialisation to public-domain data, the
	// default for a joining replica. On DeserialisePass it also returns
	// the resulting transaction bytes for playback.
	DeserialiseViews(handle []byte, publicOnly bool) (DeserialiseResult, []byte)
}

// Transport delivers an already channel-authenticated frame to a peer node
// over whatever medium the host provides (TCP, the in-enclave ringbuffer,
// or an in-memory bus in tests). It is the network-facing collaborator
// beneath the Channel Manager; this package treats it as an external
// interface, the same way spec §6 treats the Ledger and Store.
type Transport interface {
	SendFrame(to NodeId, frame []byte) error
}

// NetworkShim wraps every outbound replica-core message in a framed,
// authenticated envelope and dispatches inbound envelopes to either the
// replica core or the ledger replication path, per spec §4.2.
type NetworkShim struct {
	localID    NodeId
	core       ReplicaCore
	channels   *securechannel.Manager
	transport  Transport
	ledger     Ledger
	store      Store
	publicOnly bool
}

// NewNetworkShim constructs a NetworkShim. publicOnly restricts
// append-entries deserialisation to public-domain data, the default for a
// joining replica per spec §4.2.
func NewNetworkShim(
	localID NodeId,
	core ReplicaCore,
	channels *securechannel.Manager,
	transport Transport,
	ledger Ledger,
	store Store,
	publicOnly bool,
) *NetworkShim {
	return &NetworkShim{
		localID:    localID,
		core:       core,
		channels:   channels,
		transport:  transport,
		ledger:     ledger,
		store:      store,
		publicOnly: publicOnly,
	}
}

// Send implements the outbound path of spec §4.2. A message addressed to
// the local node is delivered directly to the replica core without
// serialisation, framing, or channel involvement. This loopback path is
// mandatory when f == 0, since a single replica still issues messages to
// itself, and is safe only because the message never leaves the process
// (spec §9's open question on this point is resolved by stating it here as
// an explicit invariant).
//
// Send returns the original message size regardless of which path was
// taken.
func (n *NetworkShim) Send(msg []byte, to NodeId) (int, error) {
	if to == n.localID {
		n.core.ReceiveMessage(msg)
		return len(msg), nil
	}

	hdr := pbftwire.Header{Type: pbftwire.MsgPbftMessage, FromNode: uint64(n.localID)}
	var buf bytes.Buffer
	if err := hdr.Encode(&buf); err != nil {
		return 0, err
	}
	buf.Write(msg)

	sealed, err := n.channels.AuthenticatedSend(securechannel.NodeId(to), nil, buf.Bytes())
	if err != nil {
		return 0, err
	}
	if err := n.transport.SendFrame(to, sealed); err != nil {
		return 0, err
	}
	return len(msg), nil
}

// GetNextMessage exists only to satisfy the replica core's network
// interface and must never be called; doing so is an invariant violation
// (spec §4.2/§7).
func (n *NetworkShim) GetNextMessage() []byte {
	panic("consensus: NetworkShim.GetNextMessage must not be called")
}

// HasMessages exists only to satisfy the replica core's network interface
// and must never be called; doing so is an invariant violation (spec
// §4.2/§7).
func (n *NetworkShim) HasMessages(to NodeId) bool {
	panic("consensus: NetworkShim.HasMessages must not be called")
}

// sendFrame authenticates and transmits an already wire-framed payload to
// to, bypassing the pbft_message header Send applies. It is the outbound
// counterpart of dispatchAppendEntries, for an append-entries batch, which
// carries its own msg_type discriminator rather than Send's pbft_message
// header.
func (n *NetworkShim) sendFrame(frame []byte, to NodeId) error {
	sealed, err := n.channels.AuthenticatedSend(securechannel.NodeId(to), nil, frame)
	if err != nil {
		return err
	}
	return n.transport.SendFrame(to, sealed)
}

// RecvMessage verifies and decrypts a raw frame received from fromPeer via
// the Channel Manager, then dispatches the recovered plaintext per spec
// §4.2. A malformed or unauthenticated frame is dropped with a warning and
// causes no state change, per spec §7.
func (n *NetworkShim) RecvMessage(fromPeer NodeId, rawFrame []byte) error {
	plaintext, err := n.channels.AuthenticatedRecv(securechannel.NodeId(fromPeer), nil, rawFrame)
	if err != nil {
		log.Warnf("dropping malformed authenticated frame from %d: %v", fromPeer, err)
		return nil
	}
	return n.dispatch(plaintext)
}

// dispatch peeks the leading msg_type byte of data and routes to the
// pbft_message or pbft_append_entries handling.
func (n *NetworkShim) dispatch(data []byte) error {
	msgType, err := pbftwire.PeekMsgType(data)
	if err != nil {
		return err
	}

	switch msgType {
	case pbftwire.MsgPbftMessage:
		return n.dispatchPbftMessage(data)
	case pbftwire.MsgPbftAppendEntries:
		return n.dispatchAppendEntries(data)
	default:
		log.Warnf("dropping frame of unknown msg_type %v", msgType)
		return nil
	}
}

func (n *NetworkShim) dispatchPbftMessage(data []byte) error {
	var hdr pbftwire.Header
	if err := hdr.Decode(bytes.NewReader(data)); err != nil {
		log.Warnf("dropping malformed pbft_message header: %v", err)
		return nil
	}
	n.core.ReceiveMessage(data[pbftwire.HeaderSize:])
	return nil
}

func (n *NetworkShim) dispatchAppendEntries(data []byte) error {
	r := bytes.NewReader(data[1:])

	var ae pbftwire.AppendEntries
	if err := ae.Decode(r); err != nil {
		log.Warnf("dropping malformed append-entries descriptor: %v", err)
		return nil
	}

	for i := ae.PrevIdx + 1; i <= ae.Idx; i++ {
		entry, err := pbftwire.ReadLengthPrefixed(r)
		if err != nil {
			log.Warnf(
				"append-entries to %d from %d malformed at index %d: %v",
				n.localID, ae.FromNode, i, err)
			return n.ledger.Truncate(Index(ae.PrevIdx))
		}

		handle, ok := n.ledger.RecordEntry(entry)
		if !ok {
			log.Warnf(
				"append-entries to %d from %d but entry %d is malformed",
				n.localID, ae.FromNode, i)
			return n.ledger.Truncate(Index(ae.PrevIdx))
		}

		result, tx := n.store.DeserialiseViews(handle, n.publicOnly)
		switch result {
		case DeserialiseFailed:
			return errors.Errorf("replica failed to apply log entry %d", i)
		case DeserialisePass:
			n.core.PlaybackTransaction(tx)
		case DeserialisePassSignature:
			return errors.New("received a history signature while running with PBFT")
		}
	}
	return nil
}
