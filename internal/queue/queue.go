// Package queue throttles and serializes backend calls.
//
// TaskQueue keeps one lane per task category. Each lane admits work through a
// sliding-window rate gate and retries throttled tasks. OpQueue runs
// destructive metadata operations against one backend strictly in order.
package queue

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"vaultsync/internal/logger"
	"vaultsync/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TaskType string

const (
	TaskDownload       TaskType = "download"
	TaskList           TaskType = "list"
	TaskGetDownloadURL TaskType = "url"
	TaskGetByPath      TaskType = "path"
	TaskOther          TaskType = "other"
)

var TaskTypes = []TaskType{TaskDownload, TaskList, TaskGetDownloadURL, TaskGetByPath, TaskOther}

type RatePolicy struct {
	MaxRequests int
	TimeWindow  time.Duration
	MinInterval time.Duration
}

func DefaultPolicies() map[TaskType]RatePolicy {
	return map[TaskType]RatePolicy{
		TaskDownload:       {MaxRequests: 3, TimeWindow: time.Second, MinInterval: 334 * time.Millisecond},
		TaskList:           {MaxRequests: 20, TimeWindow: 10 * time.Second, MinInterval: 500 * time.Millisecond},
		TaskGetDownloadURL: {MaxRequests: 10, TimeWindow: 10 * time.Second, MinInterval: time.Second},
		TaskGetByPath:      {MaxRequests: 10, TimeWindow: 10 * time.Second, MinInterval: time.Second},
		TaskOther:          {MaxRequests: 5, TimeWindow: time.Second, MinInterval: 200 * time.Millisecond},
	}
}

const (
	defaultMaxRetries      = 5
	defaultRetryDelay      = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	idlePoll               = time.Second
)

var (
	ErrShuttingDown = errors.New("queue is shutting down")
	ErrClosed       = errors.New("queue closed before task completed")
)

type Task func(ctx context.Context) (any, error)

type Stats struct {
	QueueLength    int  `json:"queueLength"`
	Running        int  `json:"running"`
	ActivePromises int  `json:"activePromises"`
	IsProcessing   bool `json:"isProcessing"`
}

type Option func(*TaskQueue)

func WithPolicy(t TaskType, p RatePolicy) Option {
	return func(q *TaskQueue) { q.policies[t] = p }
}

func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(q *TaskQueue) {
		q.maxRetries = maxRetries
		q.retryDelay = delay
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(q *TaskQueue) { q.shutdownTimeout = d }
}

type result struct {
	value any
	err   error
}

type item struct {
	task     Task
	ctx      context.Context
	id       string
	priority int
	retries  int
	seq      uint64
	lastErr  error
	settled  bool
	done     chan result
	finished chan struct{}
}

type lane struct {
	taskType   TaskType
	policy     RatePolicy
	pending    []*item
	stamps     []time.Time
	running    int
	processing bool
	closed     bool
	active     map[*item]struct{}
	wake       chan struct{}
}

func newLane(t TaskType, p RatePolicy) *lane {
	if p.MaxRequests < 1 {
		p.MaxRequests = 1
	}
	return &lane{
		taskType: t,
		policy:   p,
		active:   make(map[*item]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// next pops the highest priority task, oldest first among equals, unless
// the lane already has MaxRequests tasks in flight.
func (l *lane) next() *item {
	if len(l.pending) == 0 || l.running >= l.policy.MaxRequests {
		return nil
	}
	slices.SortStableFunc(l.pending, func(a, b *item) int {
		if a.priority != b.priority {
			return cmp.Compare(b.priority, a.priority)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	it := l.pending[0]
	l.pending = l.pending[1:]
	return it
}

type TaskQueue struct {
	mu              sync.Mutex
	lanes           map[TaskType]*lane
	policies        map[TaskType]RatePolicy
	shuttingDown    bool
	maxRetries      int
	retryDelay      time.Duration
	shutdownTimeout time.Duration
	seq             uint64
}

func New(opts ...Option) *TaskQueue {
	q := &TaskQueue{
		policies:        DefaultPolicies(),
		maxRetries:      defaultMaxRetries,
		retryDelay:      defaultRetryDelay,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.resetLanes()
	return q
}

func (q *TaskQueue) resetLanes() {
	q.lanes = make(map[TaskType]*lane, len(q.policies))
	for t, p := range q.policies {
		q.lanes[t] = newLane(t, p)
	}
}

func (q *TaskQueue) laneFor(t TaskType) *lane {
	if l, ok := q.lanes[t]; ok {
		return l
	}
	logger.Log.Warn("unknown task type, using default policy", zap.String("type", string(t)))
	l := newLane(t, q.policies[TaskOther])
	q.lanes[t] = l
	return l
}

// Enqueue schedules task and blocks until it completes or ctx is done. The
// task itself runs with a context that ignores ctx's cancellation.
func (q *TaskQueue) Enqueue(ctx context.Context, task Task, taskID string, taskType TaskType, priority int) (any, error) {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return nil, ErrShuttingDown
	}

	q.seq++
	it := &item{
		task:     task,
		ctx:      context.WithoutCancel(ctx),
		id:       taskID,
		priority: priority,
		seq:      q.seq,
		done:     make(chan result, 1),
		finished: make(chan struct{}),
	}
	l := q.laneFor(taskType)
	l.pending = append(l.pending, it)
	l.active[it] = struct{}{}
	q.kick(l)
	q.mu.Unlock()

	select {
	case r := <-it.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *TaskQueue) kick(l *lane) {
	if l.processing {
		l.signal()
		return
	}
	l.processing = true
	go q.process(l)
}

func (q *TaskQueue) process(l *lane) {
	for {
		q.mu.Lock()
		if l.closed {
			q.mu.Unlock()
			return
		}

		it := l.next()
		if it == nil {
			if len(l.pending) == 0 && l.running == 0 {
				l.processing = false
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()

			select {
			case <-l.wake:
			case <-time.After(idlePoll):
			}
			continue
		}
		l.running++
		q.mu.Unlock()

		q.waitForSlot(l)

		q.mu.Lock()
		if l.closed || it.settled {
			l.running--
			closed := l.closed
			q.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		l.stamps = append(l.stamps, time.Now())
		q.mu.Unlock()

		go q.execute(l, it)
	}
}

func (q *TaskQueue) waitForSlot(l *lane) {
	start := time.Now()
	for {
		q.mu.Lock()
		if l.closed {
			q.mu.Unlock()
			return
		}
		now := time.Now()
		p := l.policy

		kept := l.stamps[:0]
		for _, ts := range l.stamps {
			if now.Sub(ts) < p.TimeWindow {
				kept = append(kept, ts)
			}
		}
		l.stamps = kept

		var wait time.Duration
		if len(l.stamps) < p.MaxRequests {
			if n := len(l.stamps); n > 0 {
				if since := now.Sub(l.stamps[n-1]); since < p.MinInterval {
					wait = p.MinInterval - since
				}
			}
		} else {
			wait = max(p.TimeWindow-now.Sub(l.stamps[0]), p.MinInterval)
		}
		q.mu.Unlock()

		if wait <= 0 {
			metrics.RecordSlotWait(string(l.taskType), time.Since(start))
			return
		}

		logger.Log.Debug("waiting for request slot",
			zap.String("type", string(l.taskType)),
			zap.Duration("wait", wait))
		time.Sleep(wait)
	}
}

func (q *TaskQueue) execute(l *lane, it *item) {
	v, err := it.task(it.ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	l.running--
	l.signal()

	if err != nil && IsThrottle(err) && it.retries < q.maxRetries && !q.shuttingDown && !l.closed {
		it.retries++
		it.priority++
		it.lastErr = err
		metrics.RecordRetry(string(l.taskType))
		logger.Log.Warn("task throttled, retrying",
			zap.String("task", it.id),
			zap.String("type", string(l.taskType)),
			zap.Int("retry", it.retries),
			zap.Error(err))

		time.AfterFunc(q.retryDelay, func() { q.requeue(l, it) })
		return
	}

	if err != nil {
		logger.Log.Error("task failed",
			zap.String("task", it.id),
			zap.String("type", string(l.taskType)),
			zap.Error(err))
	}
	metrics.RecordTask(string(l.taskType), err == nil)
	q.settle(l, it, result{value: v, err: err})
}

func (q *TaskQueue) requeue(l *lane, it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.settled {
		return
	}
	if q.shuttingDown || l.closed {
		q.settle(l, it, result{err: it.lastErr})
		return
	}
	l.pending = append(l.pending, it)
	q.kick(l)
}

// settle must be called with mu held.
func (q *TaskQueue) settle(l *lane, it *item, r result) {
	if it.settled {
		return
	}
	it.settled = true
	delete(l.active, it)
	it.done <- r
	close(it.finished)
}

// Shutdown rejects new work, waits up to the shutdown timeout for every
// accepted task to settle, then fails whatever is left with ErrClosed.
func (q *TaskQueue) Shutdown() {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}
	q.shuttingDown = true

	waits := make(map[TaskType][]*item)
	for t, l := range q.lanes {
		for it := range l.active {
			waits[t] = append(waits[t], it)
		}
	}
	q.mu.Unlock()

	var g errgroup.Group
	for t, items := range waits {
		g.Go(func() error {
			timer := time.NewTimer(q.shutdownTimeout)
			defer timer.Stop()

			for _, it := range items {
				select {
				case <-it.finished:
				case <-timer.C:
					logger.Log.Error("timed out waiting for queued tasks",
						zap.String("type", string(t)),
						zap.Int("tasks", len(items)))
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.lanes {
		l.closed = true
		l.signal()
		for it := range l.active {
			q.settle(l, it, result{err: ErrClosed})
		}
	}
	q.resetLanes()
	logger.Log.Info("task queue shut down")
}

func (q *TaskQueue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}

func (q *TaskQueue) Stats() map[TaskType]Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[TaskType]Stats, len(q.lanes))
	for t, l := range q.lanes {
		out[t] = Stats{
			QueueLength:    len(l.pending),
			Running:        l.running,
			ActivePromises: len(l.active),
			IsProcessing:   l.processing,
		}
	}
	return out
}

type statusCoder interface {
	error
	HTTPStatusCode() int
}

// throttleTokens are the ways backends spell a 403 status in error text:
// googleapi ("Error 403"), gowebdav ("MOVE /a: 403") and plain status lines.
var throttleTokens = []string{"Error 403", ": 403", "status 403", "403 Forbidden"}

// IsThrottle reports whether err looks like an HTTP 403 from a backend.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := errors.AsType[statusCoder](err); ok && se.HTTPStatusCode() == http.StatusForbidden {
		return true
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "403 ") {
		return true
	}
	for _, tok := range throttleTokens {
		if i := strings.Index(msg, tok); i >= 0 && !digitAt(msg, i+len(tok)) {
			return true
		}
	}
	return false
}

func digitAt(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}

// Do runs fn through q as a taskType task. A nil q runs fn directly.
func Do[T any](ctx context.Context, q *TaskQueue, taskType TaskType, taskID string, fn func(context.Context) (T, error)) (T, error) {
	if q == nil {
		return fn(ctx)
	}

	v, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		out, err := fn(ctx)
		return out, err
	}, taskID, taskType, 0)
	if err != nil {
		var zero T
		return zero, err
	}

	out, _ := v.(T)
	return out, nil
}

// Run is Do for tasks with no result.
func Run(ctx context.Context, q *TaskQueue, taskType TaskType, taskID string, fn func(context.Context) error) error {
	_, err := Do(ctx, q, taskType, taskID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
