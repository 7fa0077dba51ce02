package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrStreamIdle is returned when an open stream delivers no bytes
// within the idle timeout.
var ErrStreamIdle = errors.New("stream idle timeout exceeded")

// SSEStream iterates the data frames of a text/event-stream response.
// An idle watchdog cancels the underlying request when the upstream
// goes silent, so a hung connection never blocks a reader forever.
type SSEStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	mu      sync.Mutex
	idle    *time.Timer
	idleHit bool
	timeout time.Duration
	closed  bool
}

func newSSEStream(resp *http.Response, cancel context.CancelFunc, idleTimeout time.Duration) *SSEStream {
	s := &SSEStream{
		resp:    resp,
		cancel:  cancel,
		timeout: idleTimeout,
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	s.scanner = scanner

	if idleTimeout > 0 {
		s.idle = time.AfterFunc(idleTimeout, func() {
			s.mu.Lock()
			s.idleHit = true
			s.mu.Unlock()
			cancel()
		})
	}

	return s
}

// StatusCode reports the upstream response status.
func (s *SSEStream) StatusCode() int {
	return s.resp.StatusCode
}

// Body drains and returns the remaining response body. Used to surface
// upstream error payloads when the status is not 200.
func (s *SSEStream) Body() []byte {
	data, _ := io.ReadAll(s.resp.Body)
	return data
}

// Next returns the payload of the next "data:" frame. It reports io.EOF
// when the stream ends cleanly and ErrStreamIdle when the watchdog
// fired. Event-name lines and comments are skipped; the "[DONE]"
// sentinel is passed through to the caller.
func (s *SSEStream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		s.resetIdle()

		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		return []byte(payload), nil
	}

	if err := s.scanner.Err(); err != nil {
		if s.wasIdle() {
			return nil, ErrStreamIdle
		}

		return nil, err
	}

	return nil, io.EOF
}

func (s *SSEStream) resetIdle() {
	if s.idle == nil {
		return
	}

	s.mu.Lock()
	if !s.idleHit && !s.closed {
		s.idle.Reset(s.timeout)
	}
	s.mu.Unlock()
}

func (s *SSEStream) wasIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.idleHit
}

// Close releases the connection. Safe to call more than once.
func (s *SSEStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true

	if s.idle != nil {
		s.idle.Stop()
	}
	s.mu.Unlock()

	s.cancel()

	return s.resp.Body.Close()
}
