package consensus

// ReplicaCore is the external contract this package drives. The replica
// core itself — message ordering, view change, checkpointing — is an opaque
// component; this package interacts with it only through this capability
// set, matching the source's Byz_init_replica / IMessageReceiveBase surface.
type ReplicaCore interface {
	// ReceiveMessage feeds an inbound BFT protocol frame to the core.
	ReceiveMessage(msg []byte)

	// View returns the core's current (internal, unoffset) view number.
	View() View

	// Primary returns the id of the node the core currently considers
	// primary.
	Primary() NodeId

	// IsPrimary reports whether the local node is currently primary.
	IsPrimary() bool

	// RegisterReplyHandler registers the callback invoked with an
	// application-level reply to a client request.
	RegisterReplyHandler(cb ReplyHandler)

	// RegisterGlobalCommit registers the callback invoked with
	// (version, view) whenever a batch globally commits.
	RegisterGlobalCommit(cb GlobalCommitHandler)

	// PlaybackTransaction applies a deserialised transaction from the
	// ledger into the replica's application state, used during catch-up.
	PlaybackTransaction(tx []byte)

	// EmitSignatureOnNextPrePrepare requests that a signature be embedded
	// in the next pre-prepare at or after the given version.
	EmitSignatureOnNextPrePrepare(version SeqNo)

	// SetF updates the assumed Byzantine-fault bound.
	SetF(f int)

	// AddPrincipal registers a new principal (node) with the core, used
	// by AddConfiguration.
	AddPrincipal(info PrincipalInfo)

	// Periodic advances the core's internal timers by elapsedMS
	// milliseconds. This is the core's only time source.
	Periodic(elapsedMS int64)
}

// ReplyHandler is invoked by the replica core's client proxy with the
// originating request id, a status code, and the reply payload.
type ReplyHandler func(callerRID RequestID, status int, payload []byte)

// GlobalCommitHandler is invoked by the replica core whenever a batch
// globally commits.
type GlobalCommitHandler func(version SeqNo, view View)

// RequestID correlates an adapter-level request to its reply. SessionID is
// embedded so the reply callback can route the payload back to the
// originating RPC session without a side lookup table.
type RequestID struct {
	Sequence  uint64
	SessionID uint64
}

// ClientProxy tracks outstanding client requests and routes the replica
// core's replies back to their originators. It is the Go analogue of the
// source's ClientProxy<RequestID, void>.
type ClientProxy interface {
	// SendRequest submits a serialised request under rid, invoking cb
	// with the reply once the replica core delivers one. It returns
	// whether the request was accepted for submission.
	SendRequest(rid RequestID, serialisedReq []byte, cb ReplyHandler) bool
}
