package consensus

import (
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// clientProxy is the default ClientProxy implementation wired into Adapter.
// It matches the source's ClientProxy<RequestID, void>: requests are handed
// to the replica core, and replies are correlated back to the caller's
// callback by RequestID.
type clientProxy struct {
	core ReplicaCore

	mu      sync.Mutex
	pending map[RequestID]ReplyHandler

	// submitted buffers accepted requests so SendRequest can return
	// immediately while delivery to the replica core happens on the
	// dispatch goroutine, mirroring htlcswitch's buffering of inbound
	// HTLCs ahead of the switch's single-threaded forwarding loop.
	submitted *queue.ConcurrentQueue

	quit chan struct{}
}

type submittedRequest struct {
	rid RequestID
	req []byte
}

// newClientProxy constructs a clientProxy bound to core and starts its
// dispatch goroutine.
func newClientProxy(core ReplicaCore) *clientProxy {
	cp := &clientProxy{
		core:      core,
		pending:   make(map[RequestID]ReplyHandler),
		submitted: queue.NewConcurrentQueue(64),
		quit:      make(chan struct{}),
	}
	cp.submitted.Start()
	go cp.dispatch()
	return cp
}

func (cp *clientProxy) dispatch() {
	for {
		select {
		case item, ok := <-cp.submitted.ChanOut():
			if !ok {
				return
			}
			sr := item.(submittedRequest)
			cp.core.ReceiveMessage(sr.req)
		case <-cp.quit:
			return
		}
	}
}

// SendRequest is part of the ClientProxy interface.
func (cp *clientProxy) SendRequest(rid RequestID, serialisedReq []byte, cb ReplyHandler) bool {
	cp.mu.Lock()
	cp.pending[rid] = cb
	cp.mu.Unlock()

	cp.submitted.ChanIn() <- submittedRequest{rid: rid, req: serialisedReq}
	return true
}

// recvReply is registered with the replica core as the reply handler; it
// looks up and invokes the originating caller's callback, then forgets the
// request.
func (cp *clientProxy) recvReply(rid RequestID, status int, payload []byte) {
	cp.mu.Lock()
	cb, ok := cp.pending[rid]
	if ok {
		delete(cp.pending, rid)
	}
	cp.mu.Unlock()

	if !ok {
		log.Warnf("reply for unknown request %+v dropped", rid)
		return
	}
	cb(rid, status, payload)
}

func (cp *clientProxy) stop() {
	close(cp.quit)
	cp.submitted.Stop()
}
