package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vaultsync/internal/logger"
	"vaultsync/internal/metrics"

	"go.uber.org/zap"
)

type OpType string

const (
	OpRename OpType = "rename"
	OpMove   OpType = "move"
	OpCopy   OpType = "copy"
	OpDelete OpType = "delete"
	OpMkdir  OpType = "mkdir"
)

const defaultPace = 100 * time.Millisecond

var (
	ErrInvalidOperation = errors.New("invalid meta operation")
	ErrAborted          = errors.New("meta operation aborted")
	ErrCleared          = errors.New("meta operation cleared")
)

type Operation struct {
	Type    OpType
	From    string
	To      string
	NewName string
}

// Executor performs metadata operations against one backend.
type Executor interface {
	RenameFile(ctx context.Context, from, newName string) error
	MoveFile(ctx context.Context, from, to string) error
	CopyFile(ctx context.Context, from, to string) error
	DeleteFile(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
}

type opItem struct {
	op   Operation
	ctx  context.Context
	done chan error
}

// OpQueue runs operations one at a time in submission order with a fixed
// pause between them.
type OpQueue struct {
	mu         sync.Mutex
	exec       Executor
	pending    []*opItem
	current    *opItem
	processing bool
	pace       time.Duration
}

func NewOpQueue(exec Executor) *OpQueue {
	return &OpQueue{exec: exec, pace: defaultPace}
}

// SetPace changes the delay between operations.
func (q *OpQueue) SetPace(d time.Duration) {
	q.mu.Lock()
	q.pace = d
	q.mu.Unlock()
}

// Add queues op and blocks until it has run, failed, or ctx is done.
func (q *OpQueue) Add(ctx context.Context, op Operation) error {
	it := &opItem{op: op, ctx: context.WithoutCancel(ctx), done: make(chan error, 1)}

	q.mu.Lock()
	q.pending = append(q.pending, it)
	if !q.processing {
		q.processing = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *OpQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		head := q.pending[0]
		q.current = head
		pace := q.pace
		q.mu.Unlock()

		err := q.dispatch(head.ctx, head.op)
		metrics.RecordMetaOp(string(head.op.Type), err == nil)

		q.mu.Lock()
		q.current = nil
		q.remove(head)
		if err != nil {
			rest := q.pending
			q.pending = nil
			q.processing = false
			q.mu.Unlock()

			logger.Log.Error("meta operation failed",
				zap.String("op", string(head.op.Type)),
				zap.String("from", head.op.From),
				zap.Int("aborted", len(rest)),
				zap.Error(err))

			head.done <- err
			for _, it := range rest {
				it.done <- fmt.Errorf("%w: %w", ErrAborted, err)
			}
			return
		}
		q.mu.Unlock()

		head.done <- nil
		time.Sleep(pace)
	}
}

func (q *OpQueue) remove(it *opItem) {
	for i, p := range q.pending {
		if p == it {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *OpQueue) dispatch(ctx context.Context, op Operation) error {
	switch op.Type {
	case OpRename:
		if op.NewName == "" {
			return fmt.Errorf("%w: rename requires a new name", ErrInvalidOperation)
		}
		return q.exec.RenameFile(ctx, op.From, op.NewName)
	case OpMove:
		if op.To == "" {
			return fmt.Errorf("%w: move requires a destination", ErrInvalidOperation)
		}
		return q.exec.MoveFile(ctx, op.From, op.To)
	case OpCopy:
		if op.To == "" {
			return fmt.Errorf("%w: copy requires a destination", ErrInvalidOperation)
		}
		return q.exec.CopyFile(ctx, op.From, op.To)
	case OpDelete:
		return q.exec.DeleteFile(ctx, op.From)
	case OpMkdir:
		return q.exec.Mkdir(ctx, op.From)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
}

// Len is the number of operations not yet completed, including the running one.
func (q *OpQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear fails every operation that has not started yet.
func (q *OpQueue) Clear() {
	q.mu.Lock()
	var dropped []*opItem
	var kept []*opItem
	for _, it := range q.pending {
		if it == q.current {
			kept = append(kept, it)
		} else {
			dropped = append(dropped, it)
		}
	}
	q.pending = kept
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- ErrCleared
	}
}

// OpRegistry hands out one OpQueue per backend identity.
type OpRegistry struct {
	mu     sync.Mutex
	queues map[string]*OpQueue
}

func NewOpRegistry() *OpRegistry {
	return &OpRegistry{queues: make(map[string]*OpQueue)}
}

func (r *OpRegistry) For(key string, exec Executor) *OpQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[key]; ok {
		return q
	}
	q := NewOpQueue(exec)
	r.queues[key] = q
	return q
}
