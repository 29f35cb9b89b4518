// Package pbftwire defines the wire formats carried over the secure
// channel: the consensus envelope header prepended to every forwarded
// replica-core message, and the append-entries descriptor used to
// replicate ledger batches to backups. The encode/decode style mirrors the
// teacher's lnwire package (a Message interface backed by small
// readElements/writeElements helpers over a io.Writer/io.Reader).
package pbftwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType is the one-byte discriminator prefixed to every framed consensus
// payload.
type MsgType uint8

const (
	// MsgPbftMessage wraps an opaque replica-core protocol frame.
	MsgPbftMessage MsgType = 1

	// MsgPbftAppendEntries wraps an AppendEntries descriptor.
	MsgPbftAppendEntries MsgType = 2
)

func (t MsgType) String() string {
	switch t {
	case MsgPbftMessage:
		return "pbft_message"
	case MsgPbftAppendEntries:
		return "pbft_append_entries"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// HeaderSize is the encoded size in bytes of Header: 1 byte msg_type + 8
// bytes from_node.
const HeaderSize = 1 + 8

// Header is the fixed envelope prefixed to every pbft_message frame sent
// over the secure channel: {msg_type, from_node}.
type Header struct {
	Type     MsgType
	FromNode uint64
}

// Encode writes the header in the fixed wire layout.
func (h Header) Encode(w io.Writer) error {
	return writeElements(w, uint8(h.Type), h.FromNode)
}

// Decode reads a header in the fixed wire layout.
func (h *Header) Decode(r io.Reader) error {
	var msgType uint8
	if err := readElements(r, &msgType, &h.FromNode); err != nil {
		return err
	}
	h.Type = MsgType(msgType)
	return nil
}

// PeekMsgType reads the leading discriminator byte of a framed payload
// without consuming the rest, matching the source's
// serialized::peek<PbftMsgType>.
func PeekMsgType(data []byte) (MsgType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("pbftwire: frame too short to contain a msg_type")
	}
	return MsgType(data[0]), nil
}

// AppendEntries describes a batch of ledger records replicated from primary
// to backups, per spec §6 wire format 2.
type AppendEntries struct {
	PrevIdx  uint64
	Idx      uint64
	FromNode uint64
	Term     uint64
}

// Encode writes the AppendEntries descriptor in the fixed wire layout.
func (a AppendEntries) Encode(w io.Writer) error {
	return writeElements(w, a.PrevIdx, a.Idx, a.FromNode, a.Term)
}

// Decode reads an AppendEntries descriptor in the fixed wire layout.
func (a *AppendEntries) Decode(r io.Reader) error {
	return readElements(r, &a.PrevIdx, &a.Idx, &a.FromNode, &a.Term)
}

// ReadLengthPrefixed reads a single u32-length-prefixed entry from r,
// matching the per-index ledger entries packed after an AppendEntries
// descriptor. It returns an error if the declared length exceeds what
// remains in r.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteLengthPrefixed writes data to w prefixed with its u32 big-endian
// length.
func WriteLengthPrefixed(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// writeElements writes each element to w in big-endian order, matching the
// teacher's lnwire.writeElements helper.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, e := range elements {
		if err := binary.Write(w, binary.BigEndian, e); err != nil {
			return err
		}
	}
	return nil
}

// readElements reads each element from r in big-endian order, matching the
// teacher's lnwire.readElements helper.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, e := range elements {
		if err := binary.Read(r, binary.BigEndian, e); err != nil {
			return err
		}
	}
	return nil
}
