// Package stdio implements the stdio transport Adapter: one JSON-RPC
// request per line on stdin, one response per line on stdout.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/frame"
	"github.com/eludehq/elude/internal/rpc"
)

// Adapter serves one Frame over stdin/stdout.
type Adapter struct {
	In  io.Reader
	Out io.Writer
	Log *zap.Logger

	mu sync.Mutex
}

// Serve reads newline-delimited JSON-RPC requests from a.In, enqueues
// them on f, and writes every produced response as one line to a.Out.
// It blocks until a.In returns EOF or an error. ctx is checked only after
// each line is read: once ctx is done, Serve returns on the next line,
// and a read already blocked on a.In is not interrupted.
func (a *Adapter) Serve(ctx context.Context, f *frame.Frame) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}

	f.ProcessResponse = func(resp *rpc.Response) {
		a.writeLine(resp)
	}

	go f.Start(ctx)

	scanner := bufio.NewScanner(a.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			a.writeLine(rpc.ParseError())
			continue
		}

		if !f.PutRequest(&req, false) {
			if !req.IsNotification() {
				a.writeLine(rpc.NewError(req.ID, rpc.CodeInternal, "queue full"))
			}
			continue
		}
	}

	return scanner.Err()
}

func (a *Adapter) writeLine(resp *rpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Out.Write(data)
}
