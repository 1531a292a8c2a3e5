// Package zeromq implements the ZeroMQ transport Adapter: a ROUTER
// socket accepting one JSON-RPC request per message from any number of
// DEALER/REQ peers, sharing one Frame the same way wsrpc does. Request
// ids are rewritten to a per-identity composite key so one process-wide
// ProcessResponse callback can route each response back to the peer that
// asked for it.
package zeromq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/frame"
	"github.com/eludehq/elude/internal/rpc"
)

// Adapter serves one Frame over a ZeroMQ ROUTER socket bound to Bind.
type Adapter struct {
	Bind string
	Log  *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingEntry
	seq     uint64
}

type pendingEntry struct {
	identity string
	origID   json.RawMessage
}

// Serve binds a ROUTER socket and processes messages until ctx is done.
func (a *Adapter) Serve(ctx context.Context, f *frame.Frame) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	a.pending = make(map[string]pendingEntry)

	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.Bind(a.Bind); err != nil {
		return err
	}
	sock.SetRcvtimeo(0)

	var writeMu sync.Mutex
	f.ProcessResponse = func(resp *rpc.Response) {
		a.routeResponse(resp, sock, &writeMu)
	}

	go f.Start(ctx)

	for ctx.Err() == nil {
		frames, err := sock.RecvMessageBytes(0)
		if err != nil {
			continue
		}
		if len(frames) < 2 {
			continue
		}

		identity := frames[0]
		payload := frames[len(frames)-1]

		var req rpc.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			writeMu.Lock()
			sock.SendBytes(identity, zmq.SNDMORE)
			sock.SendBytes([]byte{}, zmq.SNDMORE)
			sock.SendBytes(encode(rpc.ParseError()), 0)
			writeMu.Unlock()
			continue
		}

		if req.IsNotification() {
			f.PutRequest(&req, false)
			continue
		}

		a.mu.Lock()
		a.seq++
		localKey := base64.RawURLEncoding.EncodeToString(identity) + ":" + strconv.FormatUint(a.seq, 10)
		a.pending[localKey] = pendingEntry{identity: string(identity), origID: req.ID}
		a.mu.Unlock()

		scoped := req
		scoped.ID, _ = json.Marshal(localKey)

		if !f.PutRequest(&scoped, false) {
			writeMu.Lock()
			sock.SendBytes(identity, zmq.SNDMORE)
			sock.SendBytes([]byte{}, zmq.SNDMORE)
			sock.SendBytes(encode(rpc.NewError(req.ID, rpc.CodeInternal, "queue full")), 0)
			writeMu.Unlock()
		}
	}

	return ctx.Err()
}

func (a *Adapter) routeResponse(resp *rpc.Response, sock *zmq.Socket, writeMu *sync.Mutex) {
	var localKey string
	if err := json.Unmarshal(resp.ID, &localKey); err != nil {
		return
	}

	idPart, _, ok := strings.Cut(localKey, ":")
	if !ok {
		return
	}

	a.mu.Lock()
	entry, ok := a.pending[localKey]
	delete(a.pending, localKey)
	a.mu.Unlock()
	if !ok {
		return
	}

	identity, err := base64.RawURLEncoding.DecodeString(idPart)
	if err != nil {
		identity = []byte(entry.identity)
	}

	resp.ID = entry.origID

	writeMu.Lock()
	defer writeMu.Unlock()
	sock.SendBytes(identity, zmq.SNDMORE)
	sock.SendBytes([]byte{}, zmq.SNDMORE)
	sock.SendBytes(encode(resp), 0)
}

func encode(resp *rpc.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"id":null,"error":{"code":-32000,"message":"encode failure"}}`)
	}
	return data
}
