// Package redisq implements the Redis transport Adapter: a reliable
// queue worker that BRPOPLPUSH's requests off one list onto a
// work-in-progress list, removing each from that list once it is handed
// to the in-process queue (so a request is not lost between the pop and
// the hand-off; a crash after the hand-off, mid-fetch, does lose it), and
// LPUSHes each response onto a per-request response list keyed by the
// request's own id.
package redisq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/frame"
	"github.com/eludehq/elude/internal/rpc"
)

// Adapter serves one Frame over Redis list queues.
type Adapter struct {
	Client            *redis.Client
	RequestKey        string
	ResponseKeyPrefix string
	WorkInProgressKey string
	Log               *zap.Logger
}

// Serve pulls requests off RequestKey until ctx is done.
func (a *Adapter) Serve(ctx context.Context, f *frame.Frame) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}

	f.ProcessResponse = func(resp *rpc.Response) {
		a.deliver(ctx, resp)
	}

	go f.Start(ctx)

	for ctx.Err() == nil {
		raw, err := a.Client.BRPopLPush(ctx, a.RequestKey, a.WorkInProgressKey, 5*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("redis brpoplpush failed", zap.Error(err))
			continue
		}

		var req rpc.Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			log.Warn("redis request parse failure, dropping", zap.Error(err))
			a.ack(ctx, raw)
			continue
		}

		if !f.PutRequest(&req, false) {
			if !req.IsNotification() {
				a.deliver(ctx, rpc.NewError(req.ID, rpc.CodeInternal, "queue full"))
			}
		}
		a.ack(ctx, raw)
	}

	return ctx.Err()
}

// ack removes one copy of raw from the work-in-progress list, marking it
// handed off to the in-process queue.
func (a *Adapter) ack(ctx context.Context, raw string) {
	a.Client.LRem(ctx, a.WorkInProgressKey, 1, raw)
}

func (a *Adapter) deliver(ctx context.Context, resp *rpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	var idKey string
	if err := json.Unmarshal(resp.ID, &idKey); err != nil {
		idKey = string(resp.ID)
	}

	a.Client.LPush(ctx, a.ResponseKeyPrefix+idKey, data)
}
