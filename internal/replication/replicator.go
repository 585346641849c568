package replication

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkaminski/kvstore/internal/config"
	"github.com/mkaminski/kvstore/internal/protocol"
)

// ErrReplicationFailed is returned by sync-mode replication when at least
// one healthy replica failed to acknowledge within the timeout. The
// master's local mutation is already committed by the time this is
// returned; this error only tells the caller that replicas may be behind.
var ErrReplicationFailed = errors.New("replication failed")

type opKind int

const (
	opPut opKind = iota
	opBatchPut
	opDelete
)

type operation struct {
	kind   opKind
	key    []byte
	value  []byte
	keys   [][]byte
	values [][]byte
}

// Replicator forwards mutations from a master's store to its replicas. In
// async mode it owns a bounded queue and a worker pool; in sync mode it
// has no workers and drives replication from the calling goroutine.
type Replicator struct {
	manager *Manager
	config  config.ReplicationConfig
	log     *logrus.Entry

	queue chan operation

	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Uint64
}

// New builds a Replicator. Start must be called before any async traffic
// will be drained; sync mode needs no Start call.
func New(cfg config.ReplicationConfig, manager *Manager, log *logrus.Entry) *Replicator {
	return &Replicator{
		manager:  manager,
		config:   cfg,
		log:      log,
		queue:    make(chan operation, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}
}

// Start launches the async worker pool. It is a no-op in sync mode.
func (r *Replicator) Start() {
	if r.config.Mode != config.ReplicationAsync {
		return
	}
	if r.running.Swap(true) {
		return
	}

	workers := r.config.NumWorkers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop drains no further queued operations; in-flight sends complete.
func (r *Replicator) Stop() {
	if !r.running.Swap(false) {
		return
	}
	close(r.stopChan)
	r.wg.Wait()
}

// DroppedCount returns the number of async operations dropped because the
// queue was full, for metrics export.
func (r *Replicator) DroppedCount() uint64 {
	return r.dropped.Load()
}

// ReplicatePut satisfies storage.Replicator.
func (r *Replicator) ReplicatePut(key, value []byte) error {
	op := operation{kind: opPut, key: key, value: value}
	return r.dispatch(op)
}

// ReplicateBatchPut satisfies storage.Replicator.
func (r *Replicator) ReplicateBatchPut(keys, values [][]byte) error {
	op := operation{kind: opBatchPut, keys: keys, values: values}
	return r.dispatch(op)
}

// ReplicateDelete satisfies storage.Replicator.
func (r *Replicator) ReplicateDelete(key []byte) error {
	op := operation{kind: opDelete, key: key}
	return r.dispatch(op)
}

func (r *Replicator) dispatch(op operation) error {
	if r.config.Mode == config.ReplicationAsync {
		r.enqueue(op)
		return nil
	}
	return r.replicateSync(op)
}

// enqueue is non-blocking: a full queue drops the operation and counts it,
// per the spec's async contract. The client is never informed.
func (r *Replicator) enqueue(op operation) {
	select {
	case r.queue <- op:
	default:
		r.dropped.Add(1)
		r.log.Warn("replication queue full, dropping operation")
	}
}

func (r *Replicator) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopChan:
			return
		case op := <-r.queue:
			r.applyToHealthy(op)
		}
	}
}

// applyToHealthy sends op to every currently healthy replica, marking
// success or failure on each independently. Failures are not surfaced
// anywhere but the replica's own health counters; async mode never
// reports replication outcomes to a caller.
func (r *Replicator) applyToHealthy(op operation) {
	for _, replica := range r.manager.Healthy() {
		if err := r.sendWithRetry(replica, op); err != nil {
			r.log.WithError(err).WithField("replica", replica.Addr()).Warn("replication attempt failed")
		}
	}
}

// replicateSync blocks until every healthy replica (as of the start of
// this call) has acknowledged OK, or returns ErrReplicationFailed if any
// did not. Replicas are contacted serially; the spec permits parallel but
// does not require it.
func (r *Replicator) replicateSync(op operation) error {
	healthy := r.manager.Healthy()
	var failed []string

	for _, replica := range healthy {
		if err := r.sendWithRetry(replica, op); err != nil {
			failed = append(failed, replica.Addr())
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: replicas %v did not acknowledge", ErrReplicationFailed, failed)
	}
	return nil
}

// sendWithRetry attempts delivery up to MaxRetries+1 times before updating
// the replica's health counters once for the whole attempt sequence, per
// the spec's allowance to collapse retries into the failure-count
// mechanism.
func (r *Replicator) sendWithRetry(replica *Replica, op operation) error {
	var lastErr error
	attempts := r.config.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := r.send(replica, op); err == nil {
			replica.markSuccess()
			return nil
		} else {
			lastErr = err
		}
	}

	replica.markFailure(r.config.MaxFailures)
	return lastErr
}

// send opens a short-lived connection to replica, writes one REPLICATE
// command, and waits for its response line.
func (r *Replicator) send(replica *Replica, op operation) error {
	conn, err := net.DialTimeout("tcp", replica.Addr(), r.config.Timeout)
	if err != nil {
		return fmt.Errorf("dial replica: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(r.config.Timeout))

	line := encodeOperation(op)
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send replication command: %w", err)
	}

	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read replication response: %w", err)
	}
	if response != "OK\n" && response != "OK\r\n" {
		return fmt.Errorf("replica responded: %s", response)
	}
	return nil
}

func encodeOperation(op operation) []byte {
	switch op.kind {
	case opPut:
		return append(append(append([]byte("REPLICATE PUT "), protocol.Escape(op.key)...), ' '), protocol.Escape(op.value)...)
	case opBatchPut:
		line := append([]byte("REPLICATE BATCHPUT "), protocol.JoinBatch(op.keys)...)
		line = append(line, ' ')
		line = append(line, protocol.JoinBatch(op.values)...)
		return line
	case opDelete:
		return append([]byte("REPLICATE DELETE "), protocol.Escape(op.key)...)
	default:
		return nil
	}
}
