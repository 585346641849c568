package server

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mkaminski/kvstore/internal/protocol"
	"github.com/mkaminski/kvstore/internal/storage"
)

// dispatch parses one wire-protocol line and returns the exact bytes to
// write back (without the trailing newline the caller appends).
func (s *Server) dispatch(line []byte) []byte {
	req, err := protocol.Parse(line)
	if err != nil {
		return protocol.FormatError(err)
	}

	switch req.Command {
	case protocol.CmdPut:
		return s.handlePut(req)
	case protocol.CmdBatchPut:
		return s.handleBatchPut(req)
	case protocol.CmdRead:
		return s.handleRead(req)
	case protocol.CmdReadRange:
		return s.handleReadRange(req)
	case protocol.CmdDelete:
		return s.handleDelete(req)
	case protocol.CmdReplicatePut, protocol.CmdReplicateBatch, protocol.CmdReplicateDelete:
		return s.handleReplicate(req)
	case protocol.CmdAdminStatus:
		return s.handleAdminStatus()
	case protocol.CmdAdminAddReplica:
		return s.handleAdminAddReplica(req)
	case protocol.CmdAdminRemoveRepl:
		return s.handleAdminRemoveReplica(req)
	default:
		return protocol.FormatError(fmt.Errorf("unhandled command: %s", req.Command))
	}
}

func (s *Server) handlePut(req protocol.Request) []byte {
	if s.config.IsReplica {
		return protocol.FormatError(fmt.Errorf("PUT not accepted on a replica"))
	}
	start := time.Now()
	err := s.store.Put(req.Key, req.Value)
	if s.metrics != nil {
		s.metrics.ObservePut(start, err)
	}
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.OK
}

func (s *Server) handleBatchPut(req protocol.Request) []byte {
	if s.config.IsReplica {
		return protocol.FormatError(fmt.Errorf("BATCHPUT not accepted on a replica"))
	}
	keys := protocol.SplitBatch(req.Key)
	values := protocol.SplitBatch(req.Value)
	start := time.Now()
	err := s.store.BatchPut(keys, values)
	if s.metrics != nil {
		s.metrics.ObserveBatchPut(start, err)
	}
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.OK
}

func (s *Server) handleRead(req protocol.Request) []byte {
	start := time.Now()
	value, err := s.store.Read(req.Key)
	if s.metrics != nil {
		s.metrics.ObserveRead(start, err)
	}
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return protocol.NotFound
		}
		return protocol.FormatError(err)
	}
	return protocol.FormatValue(value)
}

func (s *Server) handleReadRange(req protocol.Request) []byte {
	results, err := s.store.ReadRange(req.Key, req.Value)
	if err != nil {
		return protocol.FormatError(err)
	}
	strResults := make(map[string][]byte, len(results))
	for k, v := range results {
		strResults[k] = v
	}
	return protocol.FormatReadRange(strResults)
}

func (s *Server) handleDelete(req protocol.Request) []byte {
	if s.config.IsReplica {
		return protocol.FormatError(fmt.Errorf("DELETE not accepted on a replica"))
	}
	start := time.Now()
	found, err := s.store.Delete(req.Key)
	if s.metrics != nil {
		s.metrics.ObserveDelete(start, err)
	}
	if err != nil {
		return protocol.FormatError(err)
	}
	if !found {
		return protocol.NotFound
	}
	return protocol.OK
}

func (s *Server) handleReplicate(req protocol.Request) []byte {
	if !s.config.IsReplica {
		return protocol.FormatError(fmt.Errorf("REPLICATE commands only accepted on replica nodes"))
	}

	var err error
	switch req.Command {
	case protocol.CmdReplicatePut:
		err = s.store.Put(req.Key, req.Value)
	case protocol.CmdReplicateBatch:
		keys := protocol.SplitBatch(req.Key)
		values := protocol.SplitBatch(req.Value)
		err = s.store.BatchPut(keys, values)
	case protocol.CmdReplicateDelete:
		_, err = s.store.Delete(req.Key)
	}
	if err != nil {
		return protocol.FormatError(err)
	}
	return protocol.OK
}

func (s *Server) handleAdminStatus() []byte {
	if s.manager == nil {
		return protocol.FormatError(fmt.Errorf("ADMIN STATUS only available on a master"))
	}

	statuses := s.manager.Status()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Addr < statuses[j].Addr })

	if len(statuses) == 0 {
		return []byte("no replicas registered")
	}

	var buf bytes.Buffer
	for _, status := range statuses {
		fmt.Fprintf(&buf, "%s healthy=%t failures=%d\n", status.Addr, status.Healthy, status.ConsecutiveFailures)
	}
	buf.WriteString("\n")
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func (s *Server) handleAdminAddReplica(req protocol.Request) []byte {
	if s.manager == nil {
		return protocol.FormatError(fmt.Errorf("ADMIN ADDREPLICA only available on a master"))
	}
	if err := s.manager.Add(string(req.Key)); err != nil {
		return protocol.FormatError(err)
	}
	return protocol.OK
}

func (s *Server) handleAdminRemoveReplica(req protocol.Request) []byte {
	if s.manager == nil {
		return protocol.FormatError(fmt.Errorf("ADMIN REMOVEREPLICA only available on a master"))
	}
	s.manager.Remove(string(req.Key))
	return protocol.OK
}
