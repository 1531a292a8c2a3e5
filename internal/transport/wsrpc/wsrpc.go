// Package wsrpc implements the WebSocket transport Adapter: every
// connection is a JSON-RPC peer sharing one Frame (and so one queue,
// cache, in-flight map and proxy pool) with every other peer. Unlike a
// fan-out broadcast, each response is routed back to exactly the
// connection that asked for it.
//
// Request ids are caller-chosen and only unique within one connection,
// but Frame.ProcessResponse is one callback shared by every connection, so inbound ids
// are rewritten to a connection-scoped composite key before being
// queued, and rewritten back to the caller's original id when the
// response is routed back to its connection.
package wsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/frame"
	"github.com/eludehq/elude/internal/rpc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type peerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]json.RawMessage
}

func (p *peerConn) track(localKey string, origID json.RawMessage) {
	p.mu.Lock()
	p.pending[localKey] = origID
	p.mu.Unlock()
}

func (p *peerConn) resolve(localKey string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.pending[localKey]
	delete(p.pending, localKey)
	return id, ok
}

func (p *peerConn) write(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.WriteMessage(websocket.TextMessage, data)
}

// Adapter serves one Frame over a WebSocket listener, multiplexing many
// concurrent peer connections onto it.
type Adapter struct {
	ListenAddress string
	Log           *zap.Logger

	mu    sync.Mutex
	peers map[string]*peerConn
}

// Serve starts an HTTP server upgrading every connection to a JSON-RPC
// peer of f, until ctx is done.
func (a *Adapter) Serve(ctx context.Context, f *frame.Frame) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	a.peers = make(map[string]*peerConn)

	f.ProcessResponse = a.routeResponse

	go f.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		connID := uuid.NewString()
		peer := &peerConn{conn: conn, pending: make(map[string]json.RawMessage)}

		a.mu.Lock()
		a.peers[connID] = peer
		a.mu.Unlock()

		go a.servePeer(connID, peer, f, log)
	})

	srv := &http.Server{Addr: a.ListenAddress, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *Adapter) servePeer(connID string, peer *peerConn, f *frame.Frame, log *zap.Logger) {
	defer func() {
		a.mu.Lock()
		delete(a.peers, connID)
		a.mu.Unlock()
		peer.conn.Close()
	}()

	var localSeq uint64

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}

		var req rpc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			a.writeError(peer, rpc.ParseError())
			continue
		}

		if req.IsNotification() {
			if !f.PutRequest(&req, false) {
				log.Warn("dropped notification: queue full")
			}
			continue
		}

		localSeq++
		localKey := connID + ":" + strconv.FormatUint(localSeq, 10)
		peer.track(localKey, req.ID)

		scoped := req
		scoped.ID, _ = json.Marshal(localKey)

		if !f.PutRequest(&scoped, false) {
			origID, _ := peer.resolve(localKey)
			a.writeError(peer, rpc.NewError(origID, rpc.CodeInternal, "queue full"))
		}
	}
}

// routeResponse is the single Frame.ProcessResponse callback shared by
// every peer: it reads the connection id back out of the composite key
// installed in servePeer, restores the caller's original id, and writes
// to that connection only.
func (a *Adapter) routeResponse(resp *rpc.Response) {
	var localKey string
	if err := json.Unmarshal(resp.ID, &localKey); err != nil {
		return
	}

	connID, _, ok := strings.Cut(localKey, ":")
	if !ok {
		return
	}

	a.mu.Lock()
	peer, ok := a.peers[connID]
	a.mu.Unlock()
	if !ok {
		return
	}

	origID, ok := peer.resolve(localKey)
	if !ok {
		return
	}
	resp.ID = origID

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	peer.write(data)
}

func (a *Adapter) writeError(peer *peerConn, resp *rpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	peer.write(data)
}
