// Package dashboard serves a live status page over HTTP and WebSocket,
// reporting broker-wide queue, cache, and proxy pool health.
package dashboard

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/cache"
	"github.com/eludehq/elude/internal/frame"
)

// Payload is the envelope every WebSocket push is wrapped in.
type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

// Snapshot is the point-in-time broker status pushed to every client.
type Snapshot struct {
	QueueDepth   int   `json:"queue_depth"`
	CacheEntries int   `json:"cache_entries"`
	CacheBytes   int64 `json:"cache_bytes"`
	WorkerCount  int   `json:"worker_count"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dashboard periodically broadcasts a Snapshot, aggregated across every
// Frame it was built with, to every connected WebSocket client. Each
// enabled transport owns its own Frame, so a multi-transport broker's
// dashboard sums queue/cache/worker stats across all of them.
type Dashboard struct {
	frames []*frame.Frame
	log    *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New builds a Dashboard aggregating stats across frames.
func New(frames []*frame.Frame, log *zap.Logger) *Dashboard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dashboard{frames: frames, log: log, clients: make(map[*websocket.Conn]bool)}
}

// Handler returns the http.Handler serving the index page and the
// WebSocket upgrade endpoint.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.serveIndex)
	mux.HandleFunc("/ws", d.serveWS)
	return mux
}

// Run pushes a fresh Snapshot to every connected client every interval,
// until the caller closes done.
func (d *Dashboard) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.broadcast(d.snapshot())
		}
	}
}

func (d *Dashboard) snapshot() Snapshot {
	var s Snapshot
	for _, f := range d.frames {
		s.QueueDepth += f.Queue.Len()
		s.CacheEntries += cacheLen(f.Cache)
		s.CacheBytes += f.Cache.Bytes()
		s.WorkerCount += f.WorkerCount()
	}
	return s
}

func cacheLen(c *cache.Cache) int { return c.Len() }

func (d *Dashboard) broadcast(s Snapshot) {
	msg, err := json.Marshal(Payload{Kind: "snapshot", Body: s})
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(d.clients, conn)
		}
	}
}

func (d *Dashboard) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("dashboard upgrade failed", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.clients[conn] = true
	d.mu.Unlock()

	d.broadcast(d.snapshot())
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>elude</title></head>
<body>
<h1>elude broker</h1>
<pre id="status">connecting...</pre>
<script>
var ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function(ev) {
  var msg = JSON.parse(ev.data);
  document.getElementById("status").textContent = JSON.stringify(msg.body, null, 2);
};
</script>
</body>
</html>`

func (d *Dashboard) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", time.Time{}, strings.NewReader(indexHTML))
}
