package consensus_test

import (
	"sync"

	"github.com/ccfnode/pbftadapter/consensus"
)

// fakeCore is a minimal, test-only stand-in for the opaque replica core.
// It records every call it receives so tests can assert on them directly,
// rather than trying to drive real BFT ordering.
type fakeCore struct {
	mu sync.Mutex

	received []byte
	playback [][]byte

	view    consensus.View
	primary consensus.NodeId
	isPrim  bool

	replyHandler  consensus.ReplyHandler
	commitHandler consensus.GlobalCommitHandler

	principals  []consensus.PrincipalInfo
	f           int
	periodicMS  []int64
	sigRequests []consensus.SeqNo
}

var _ consensus.ReplicaCore = (*fakeCore)(nil)

func newFakeCore() *fakeCore {
	return &fakeCore{}
}

func (c *fakeCore) ReceiveMessage(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append([]byte(nil), msg...)
}

func (c *fakeCore) View() consensus.View { return c.view }

func (c *fakeCore) Primary() consensus.NodeId { return c.primary }

func (c *fakeCore) IsPrimary() bool { return c.isPrim }

func (c *fakeCore) RegisterReplyHandler(cb consensus.ReplyHandler) {
	c.replyHandler = cb
}

func (c *fakeCore) RegisterGlobalCommit(cb consensus.GlobalCommitHandler) {
	c.commitHandler = cb
}

func (c *fakeCore) PlaybackTransaction(tx []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playback = append(c.playback, append([]byte(nil), tx...))
}

func (c *fakeCore) EmitSignatureOnNextPrePrepare(version consensus.SeqNo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigRequests = append(c.sigRequests, version)
}

func (c *fakeCore) SetF(f int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.f = f
}

func (c *fakeCore) AddPrincipal(info consensus.PrincipalInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principals = append(c.principals, info)
}

func (c *fakeCore) Periodic(elapsedMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.periodicMS = append(c.periodicMS, elapsedMS)
}

// memTransport is a recording Transport stand-in: it captures every frame
// handed to SendFrame instead of delivering it anywhere, since the tests in
// this package drive cross-peer delivery directly (they hand a sealed
// frame straight to the recipient's RecvMessage) and only need Send's own
// framing/sealing behaviour verified.
type memTransport struct {
	mu   sync.Mutex
	sent []sentFrame
}

type sentFrame struct {
	to    consensus.NodeId
	frame []byte
}

func newMemTransport(bus *memBus, self consensus.NodeId) *memTransport {
	t := &memTransport{}
	bus.register(self, t)
	return t
}

func (t *memTransport) SendFrame(to consensus.NodeId, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentFrame{to: to, frame: append([]byte(nil), frame...)})
	return nil
}

// memBus is a trivial registry of memTransports, keyed by NodeId, kept only
// so call sites read naturally (newMemTransport(bus, id)) even though
// nothing currently looks members up by id.
type memBus struct {
	mu      sync.Mutex
	members map[consensus.NodeId]*memTransport
}

func newMemBus() *memBus {
	return &memBus{members: make(map[consensus.NodeId]*memTransport)}
}

func (b *memBus) register(id consensus.NodeId, t *memTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[id] = t
}

// noopLedgerStore is a do-nothing Ledger+Store pair for adapter tests that
// exercise bookkeeping rather than ledger replication.
type noopLedgerStore struct{}

var (
	_ consensus.Ledger = noopLedgerStore{}
	_ consensus.Store  = noopLedgerStore{}
)

func (noopLedgerStore) PutEntry(data []byte) error                 { return nil }
func (noopLedgerStore) RecordEntry(data []byte) ([]byte, bool)     { return data, true }
func (noopLedgerStore) Truncate(prevIdx consensus.Index) error     { return nil }
func (noopLedgerStore) SkipEntry(data []byte) error                { return nil }
func (noopLedgerStore) CurrentVersion() consensus.SeqNo            { return 0 }
func (noopLedgerStore) Compact(version consensus.SeqNo)            {}
func (noopLedgerStore) DeserialiseViews(handle []byte, publicOnly bool) (consensus.DeserialiseResult, []byte) {
	return consensus.DeserialisePass, handle
}

// recordingLedgerStore is a noopLedgerStore that also records every entry
// handed to PutEntry and every version handed to Compact, so adapter tests
// can assert on Adapter.Replicate's and onGlobalCommit's calls into it.
type recordingLedgerStore struct {
	noopLedgerStore

	mu       sync.Mutex
	put      [][]byte
	compacts []consensus.SeqNo
}

var (
	_ consensus.Ledger = (*recordingLedgerStore)(nil)
	_ consensus.Store  = (*recordingLedgerStore)(nil)
)

func (r *recordingLedgerStore) PutEntry(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put = append(r.put, append([]byte(nil), data...))
	return nil
}

func (r *recordingLedgerStore) Compact(version consensus.SeqNo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compacts = append(r.compacts, version)
}
