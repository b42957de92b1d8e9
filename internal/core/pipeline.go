package core

import (
	"context"
	"fmt"
	"time"

	"github.com/doctordirect/consult-relay/internal/store"
)

type jobKind int

const (
	jobMessage jobKind = iota
	jobReceipt
	jobStatus
	jobHistory
)

func (k jobKind) String() string {
	switch k {
	case jobMessage:
		return "message"
	case jobReceipt:
		return "receipt"
	case jobStatus:
		return "status"
	case jobHistory:
		return "history"
	}
	return "unknown"
}

// job is one unit of persistence work queued on a room pipeline.
type job struct {
	kind            jobKind
	roomID          string
	connID          string
	clientMessageID string

	message *store.Message
	receipt *store.Receipt
	status  *store.StatusChange
	limit   int
}

type jobResult struct {
	job
	history []*store.Message
	err     error
	took    time.Duration
}

// pipeline serializes persistence for one room. Results are handed back to
// the relay loop in the order jobs were accepted.
type pipeline struct {
	roomID string
	jobs   chan job
	// pending counts jobs accepted but not yet resolved. Owned by the relay loop.
	pending int
}

func (r *Relay) startPipeline(roomID string) *pipeline {
	p := &pipeline{
		roomID: roomID,
		jobs:   make(chan job, r.opts.RoomQueueSize),
	}
	r.pipelines[roomID] = p

	r.wg.Add(1)
	go r.runPipeline(r.runCtx, p)
	return p
}

// enqueue hands a job to the room pipeline without blocking the loop.
func (r *Relay) enqueue(j job) bool {
	p := r.pipelines[j.roomID]
	if p == nil {
		p = r.startPipeline(j.roomID)
	}

	select {
	case p.jobs <- j:
		p.pending++
		return true
	default:
		return false
	}
}

// retirePipeline stops the pipeline of a room that no longer exists once it is idle.
func (r *Relay) retirePipeline(roomID string) {
	p := r.pipelines[roomID]
	if p == nil || p.pending > 0 {
		return
	}
	if _, live := r.rooms[roomID]; live {
		return
	}
	close(p.jobs)
	delete(r.pipelines, roomID)
}

func (r *Relay) runPipeline(ctx context.Context, p *pipeline) {
	defer r.wg.Done()

	for j := range p.jobs {
		if ctx.Err() != nil {
			return
		}

		res := r.execute(ctx, j)

		select {
		case r.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) execute(ctx context.Context, j job) jobResult {
	res := jobResult{job: j}
	start := time.Now()

	if r.store == nil {
		res.err = ErrNoStore
		return res
	}

	var history []*store.Message
	res.err = withTimeout(ctx, r.opts.PersistTimeout, func(ctx context.Context) error {
		switch j.kind {
		case jobMessage:
			return r.store.RecordMessage(ctx, j.message)
		case jobReceipt:
			return r.store.MarkRead(ctx, j.receipt)
		case jobStatus:
			return r.store.UpdateStatus(ctx, j.status)
		case jobHistory:
			msgs, err := r.store.ListMessages(ctx, j.roomID, j.limit)
			history = msgs
			return err
		}
		return fmt.Errorf("unknown job kind %d", j.kind)
	})
	res.took = time.Since(start)
	if res.err == nil {
		res.history = history
	}

	return res
}

// withTimeout runs fn and gives up once the timeout elapses, even if fn ignores its context.
func withTimeout(parent context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(parent)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("persist: %w", ctx.Err())
	}
}
