package replication

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkaminski/kvstore/internal/config"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

// fakeReplica is a minimal TCP listener that plays the replica side of the
// wire protocol: it reads one line per connection and replies with a
// canned response, recording every line it received.
type fakeReplica struct {
	ln       net.Listener
	response string
	received chan string
}

func startFakeReplica(t *testing.T, response string) *fakeReplica {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeReplica{ln: ln, response: response, received: make(chan string, 64)}
	go f.serve()
	return f
}

func (f *fakeReplica) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			reader := bufio.NewReader(conn)
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			f.received <- line
			conn.Write([]byte(f.response))
		}()
	}
}

func (f *fakeReplica) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeReplica) close() {
	f.ln.Close()
}

func testReplicationConfig() config.ReplicationConfig {
	return config.ReplicationConfig{
		Enabled:     true,
		Mode:        config.ReplicationAsync,
		MaxRetries:  0,
		QueueSize:   4,
		MaxFailures: 3,
		Timeout:     time.Second,
		NumWorkers:  1,
	}
}

func TestReplicator_AsyncDeliversPutToHealthyReplica(t *testing.T) {
	replica := startFakeReplica(t, "OK\n")
	defer replica.close()

	manager, err := NewManager([]string{replica.addr()})
	if err != nil {
		t.Fatal(err)
	}

	r := New(testReplicationConfig(), manager, testLog())
	r.Start()
	defer r.Stop()

	if err := r.ReplicatePut([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("async ReplicatePut should never return an error, got %v", err)
	}

	select {
	case line := <-replica.received:
		if line != "REPLICATE PUT k1 v1\n" {
			t.Errorf("unexpected wire line: %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replica to receive the operation")
	}
}

func TestReplicator_AsyncDropsOperationWhenQueueFull(t *testing.T) {
	replica := startFakeReplica(t, "OK\n")
	defer replica.close()

	manager, err := NewManager([]string{replica.addr()})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testReplicationConfig()
	cfg.QueueSize = 1
	r := New(cfg, manager, testLog())
	// Deliberately do not Start the worker pool, so the queue never drains
	// and a subsequent enqueue is guaranteed to observe it full.
	r.queue <- operation{kind: opPut}

	if err := r.ReplicatePut([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("async ReplicatePut should never return an error, got %v", err)
	}

	if got := r.DroppedCount(); got != 1 {
		t.Errorf("expected 1 dropped operation, got %d", got)
	}
}

func TestReplicator_SyncBlocksUntilAcknowledged(t *testing.T) {
	replica := startFakeReplica(t, "OK\n")
	defer replica.close()

	manager, err := NewManager([]string{replica.addr()})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testReplicationConfig()
	cfg.Mode = config.ReplicationSync
	r := New(cfg, manager, testLog())

	if err := r.ReplicatePut([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("expected sync replication to succeed, got %v", err)
	}

	select {
	case <-replica.received:
	default:
		t.Error("expected the replica to have received the operation by the time ReplicatePut returned")
	}
}

func TestReplicator_SyncReturnsErrorOnReplicaFailure(t *testing.T) {
	replica := startFakeReplica(t, "ERROR bad command\n")
	defer replica.close()

	manager, err := NewManager([]string{replica.addr()})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testReplicationConfig()
	cfg.Mode = config.ReplicationSync
	r := New(cfg, manager, testLog())

	err = r.ReplicatePut([]byte("k1"), []byte("v1"))
	if err == nil {
		t.Fatal("expected an error when a replica fails to acknowledge")
	}
}

func TestReplicator_SyncMarksReplicaUnhealthyAfterRepeatedFailures(t *testing.T) {
	// No listener at all: every dial attempt fails immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	manager, err := NewManager([]string{addr})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testReplicationConfig()
	cfg.Mode = config.ReplicationSync
	cfg.MaxFailures = 1
	cfg.Timeout = 200 * time.Millisecond
	r := New(cfg, manager, testLog())

	if err := r.ReplicatePut([]byte("k1"), []byte("v1")); err == nil {
		t.Fatal("expected an error when the only replica is unreachable")
	}

	if len(manager.Healthy()) != 0 {
		t.Error("expected the unreachable replica to be marked unhealthy")
	}
}

func TestReplicator_SyncSkipsAlreadyUnhealthyReplicas(t *testing.T) {
	replica := startFakeReplica(t, "OK\n")
	defer replica.close()

	manager, err := NewManager([]string{replica.addr()})
	if err != nil {
		t.Fatal(err)
	}
	manager.All()[0].markFailure(1)

	cfg := testReplicationConfig()
	cfg.Mode = config.ReplicationSync
	r := New(cfg, manager, testLog())

	if err := r.ReplicatePut([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("expected success when the only replica is unhealthy and therefore skipped, got %v", err)
	}

	select {
	case <-replica.received:
		t.Error("expected an unhealthy replica to never receive traffic")
	default:
	}
}

func TestReplicator_EncodeBatchPut(t *testing.T) {
	op := operation{
		kind:   opBatchPut,
		keys:   [][]byte{[]byte("k1"), []byte("k2")},
		values: [][]byte{[]byte("v1"), []byte("v2")},
	}
	line := string(encodeOperation(op))
	if line != "REPLICATE BATCHPUT k1,k2 v1,v2" {
		t.Errorf("unexpected encoding: %q", line)
	}
}

func TestReplicator_EncodeDelete(t *testing.T) {
	op := operation{kind: opDelete, key: []byte("k1")}
	line := string(encodeOperation(op))
	if line != "REPLICATE DELETE k1" {
		t.Errorf("unexpected encoding: %q", line)
	}
}
