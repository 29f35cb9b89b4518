package consensus

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/ccfnode/pbftadapter/pbftwire"
	"github.com/ccfnode/pbftadapter/rpcsession"
	"github.com/ccfnode/pbftadapter/securechannel"
)

// Adapter is the bridge between the opaque PBFT replica core and the
// surrounding ledger/store/RPC-session host, per spec §4.3. It owns view
// and global-commit bookkeeping, request submission, membership
// reconfiguration, ledger replication, and inbound frame dispatch
// (delegated to the embedded NetworkShim).
type Adapter struct {
	localID  NodeId
	core     ReplicaCore
	proxy    *clientProxy
	shim     *NetworkShim
	ledger   Ledger
	store    Store
	sessions *rpcsession.SessionManager

	mu                 sync.Mutex
	viewHistory        *viewChangeHistory
	commitSeqno        SeqNo
	lastCommitView     View
	appendEntriesIndex Index

	reqSeq uint64 // atomic
}

// NewAdapter constructs an Adapter bound to core and wires the reply and
// global-commit callbacks core invokes back into the adapter's
// bookkeeping. publicOnly is forwarded to the NetworkShim for
// append-entries deserialisation.
func NewAdapter(
	localID NodeId,
	core ReplicaCore,
	channels *securechannel.Manager,
	transport Transport,
	ledger Ledger,
	store Store,
	publicOnly bool,
) *Adapter {
	a := &Adapter{
		localID: localID,
		core:    core,
		ledger:  ledger,
		store:   store,

		viewHistory: newViewChangeHistory(),
		// The replica core's views start at 1 (the seed history entry's
		// view 0 is a lookup-only placeholder, never an actual reported
		// view), so the first global commit must not itself look like a
		// view advance.
		lastCommitView: 1,

		sessions: rpcsession.NewSessionManager(),
	}
	a.proxy = newClientProxy(core)
	a.shim = NewNetworkShim(localID, core, channels, transport, ledger, store, publicOnly)

	core.RegisterReplyHandler(a.proxy.recvReply)
	core.RegisterGlobalCommit(a.onGlobalCommit)
	return a
}

// onGlobalCommit is registered with the replica core as its global-commit
// callback, per spec §4.3's four-step algorithm: discard a stale or
// sentinel version, advance the commit seqno, extend the view-change
// history on a view advance, and compact the store on an actual increase.
func (a *Adapter) onGlobalCommit(version SeqNo, view View) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if version == SeqNoNone || version < a.commitSeqno {
		return
	}
	increased := version > a.commitSeqno
	a.commitSeqno = version

	if view > a.lastCommitView {
		a.viewHistory.append(view, version)
		a.lastCommitView = view
	}

	if increased {
		a.store.Compact(version)
	}
}

// GetCommitSeqno returns the highest version seen across every global
// commit so far.
func (a *Adapter) GetCommitSeqno() SeqNo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commitSeqno
}

// GetView returns the replica core's current view, with ExternalViewOffset
// applied.
func (a *Adapter) GetView() View {
	return a.core.View() + ExternalViewOffset
}

// GetViewAt returns the view that was active when seqno committed, with
// ExternalViewOffset applied. ok is false only if the view-change history
// has been corrupted; its seed entry guarantees a match for every seqno
// otherwise.
func (a *Adapter) GetViewAt(seqno SeqNo) (View, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewHistory.viewAt(seqno)
}

// Primary returns the id of the node the replica core currently considers
// primary.
func (a *Adapter) Primary() NodeId {
	return a.core.Primary()
}

// IsPrimary reports whether the local node is currently primary.
func (a *Adapter) IsPrimary() bool {
	return a.core.IsPrimary()
}

// IsBackup reports whether the local node is currently a backup.
func (a *Adapter) IsBackup() bool {
	return !a.core.IsPrimary()
}

// SetF updates the assumed Byzantine-fault bound.
func (a *Adapter) SetF(f int) {
	a.core.SetF(f)
}

// EmitSignature requests that the replica core embed a signature in the
// next pre-prepare at or after version.
func (a *Adapter) EmitSignature(version SeqNo) {
	a.core.EmitSignatureOnNextPrePrepare(version)
}

// Periodic advances the replica core's internal timers by elapsedMS
// milliseconds. This is the core's only time source; callers drive it from
// a ticker (see the clock package wired in by the host).
func (a *Adapter) Periodic(elapsedMS int64) {
	a.core.Periodic(elapsedMS)
}

// AddConfiguration registers every node in nodes as a new principal with
// the replica core, skipping any entry whose NodeID is the local node: the
// core already knows about itself, and re-adding it is a no-op rather than
// an error, per spec §4.3/§8.
func (a *Adapter) AddConfiguration(nodes []NodeConf) {
	for _, n := range nodes {
		if n.NodeID == a.localID {
			continue
		}
		a.core.AddPrincipal(PrincipalInfo{
			ID:        n.NodeID,
			Cert:      n.Cert,
			HostName:  n.HostName,
			IP:        InvalidPlaceholderIP,
			IsReplica: true,
		})
	}
}

// Sessions returns the adapter's RPC Session Manager, so the host can
// register a session before submitting requests under its id and read
// replies back off it.
func (a *Adapter) Sessions() *rpcsession.SessionManager {
	return a.sessions
}

// OnRequest submits req on behalf of sessionID, invoking cb with the
// replica core's reply once one arrives. The reply is also forwarded
// asynchronously via the RPC Session Manager to whatever session is
// registered under sessionID, per spec §4.3's reply callback; a sessionID
// with no registered session is a no-op there. OnRequest returns the
// RequestID assigned to the submission and whether it was accepted.
func (a *Adapter) OnRequest(sessionID uint64, req Request, cb ReplyHandler) (RequestID, bool) {
	seq := atomic.AddUint64(&a.reqSeq, 1)
	rid := RequestID{Sequence: seq, SessionID: sessionID}
	accepted := a.proxy.SendRequest(rid, encodeRequest(req), func(gotRID RequestID, status int, payload []byte) {
		a.sessions.ReplyAsync(gotRID, status, payload)
		cb(gotRID, status, payload)
	})
	return rid, accepted
}

// Replicate appends each of entries to the local ledger in order, advancing
// append_entries_index past each one, per spec §4.3's replicate operation
// and the original Pbft::replicate. It is a purely local write: entries
// reach other replicas through NetworkShim's inbound append-entries
// dispatch when the primary's own outbound replication frame arrives over
// the wire, not through this method. The caller is responsible for ensuring
// entries is contiguous with the current cursor.
func (a *Adapter) Replicate(entries [][]byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range entries {
		if err := a.ledger.PutEntry(e); err != nil {
			log.Warnf("replicate: put_entry failed at index %d: %v", a.appendEntriesIndex+1, err)
			return false
		}
		a.appendEntriesIndex++
	}
	return true
}

// RecvMessage verifies, decrypts, and dispatches a raw frame received from
// fromPeer. It delegates entirely to the embedded NetworkShim.
func (a *Adapter) RecvMessage(fromPeer NodeId, rawFrame []byte) error {
	return a.shim.RecvMessage(fromPeer, rawFrame)
}

// Stop tears down the adapter's client proxy dispatch goroutine.
func (a *Adapter) Stop() {
	a.proxy.stop()
}

// encodeRequest serialises req as {actor, caller_id, len-prefixed
// caller_cert, len-prefixed payload}, the form handed to the replica
// core's client proxy.
func encodeRequest(req Request) []byte {
	var buf bytes.Buffer
	buf.WriteByte(req.Actor)
	binary.Write(&buf, binary.BigEndian, req.CallerID)
	pbftwire.WriteLengthPrefixed(&buf, req.CallerCert)
	pbftwire.WriteLengthPrefixed(&buf, req.Payload)
	return buf.Bytes()
}
