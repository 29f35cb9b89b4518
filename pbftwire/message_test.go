package pbftwire_test

import (
	"bytes"
	"testing"

	"github.com/ccfnode/pbftadapter/pbftwire"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	in := pbftwire.Header{Type: pbftwire.MsgPbftMessage, FromNode: 7}

	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))
	require.Equal(t, pbftwire.HeaderSize, buf.Len())

	var out pbftwire.Header
	require.NoError(t, out.Decode(&buf))
	require.Equal(t, in, out)
}

func TestPeekMsgType(t *testing.T) {
	msgType, err := pbftwire.PeekMsgType([]byte{byte(pbftwire.MsgPbftAppendEntries), 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, pbftwire.MsgPbftAppendEntries, msgType)

	_, err = pbftwire.PeekMsgType(nil)
	require.Error(t, err)
}

func TestAppendEntriesRoundTrip(t *testing.T) {
	in := pbftwire.AppendEntries{PrevIdx: 10, Idx: 13, FromNode: 2, Term: 4}

	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))

	var out pbftwire.AppendEntries
	require.NoError(t, out.Decode(&buf))
	require.Equal(t, in, out)
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pbftwire.WriteLengthPrefixed(&buf, []byte("hello")))
	require.NoError(t, pbftwire.WriteLengthPrefixed(&buf, []byte("world!")))

	got1, err := pbftwire.ReadLengthPrefixed(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got1)

	got2, err := pbftwire.ReadLengthPrefixed(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("world!"), got2)
}

func TestReadLengthPrefixedTruncated(t *testing.T) {
	// Declares a 20-byte entry but only supplies 3.
	buf := bytes.NewBuffer([]byte{0, 0, 0, 20, 'a', 'b', 'c'})
	_, err := pbftwire.ReadLengthPrefixed(buf)
	require.Error(t, err)
}

func TestMsgTypeString(t *testing.T) {
	require.Equal(t, "pbft_message", pbftwire.MsgPbftMessage.String())
	require.Equal(t, "pbft_append_entries", pbftwire.MsgPbftAppendEntries.String())
	require.Contains(t, pbftwire.MsgType(99).String(), "99")
}
