package server

import (
	"bufio"
	"errors"
	"io"
	"net"
)

// handleConnection reads newline-delimited requests from conn until the
// client disconnects or the connection is force-closed by Stop, writing
// one newline-terminated response per request (READRANGE and ADMIN STATUS
// responses span several lines).
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = trimNewline(line)
			if len(line) > 0 {
				response := s.dispatch(line)
				if _, writeErr := conn.Write(append(response, '\n')); writeErr != nil {
					s.log.WithField("client", addr).WithError(writeErr).Debug("write failed")
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithField("client", addr).WithError(err).Debug("connection read failed")
			}
			return
		}
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	for n > 0 && (line[n-1] == '\n' || line[n-1] == '\r') {
		n--
	}
	return line[:n]
}
