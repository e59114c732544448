package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// RunStdio implements the stdio framing (§4.H): newline-delimited JSON,
// one session for the lifetime of the process, backpressure by blocking
// writes. Unlike the HTTP-backed framings there is exactly one session and
// no listener loop to register with chi; the caller runs this directly
// from main for a subprocess-style client connection.
func (s *Server) RunStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	sess := s.handler.Sessions().Open(models.TransportStdio)
	outbox := s.broker.Register(sess.ID)
	defer s.closeSession(ctx, sess.ID)

	var writeMu sync.Mutex
	write := func(msg *models.RPCMessage) {
		b, err := json.Marshal(msg)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		out.Write(b)
		out.Write([]byte("\n"))
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-outbox:
				if !ok {
					return
				}
				write(msg)
			}
		}
	}()
	defer close(done)

	// Each request is dispatched on its own goroutine so the scan loop
	// never blocks on Handle: a notifications/cancelled line is read and
	// processed immediately even while a tools/call is in flight (§8
	// invariant #4). inflight is drained before returning so no write races
	// the session's teardown.
	var inflight sync.WaitGroup
	defer inflight.Wait()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg models.RPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			write(&models.RPCMessage{JSONRPC: "2.0", Error: toRPCError(mcperr.ParseError(err.Error()))})
			continue
		}
		inflight.Add(1)
		go func(m models.RPCMessage) {
			defer inflight.Done()
			if resp := s.handler.Handle(ctx, sess, &m); resp != nil {
				write(resp)
			}
		}(msg)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("stdio transport: read error, closing session")
		return err
	}
	return nil
}
