package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClient_GetRetriesOn5xx(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	c := New(testLogger())

	body, status, err := c.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok": true}`, string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_GetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(testLogger(), WithMaxAttempts(2))

	_, status, err := c.Get(context.Background(), server.URL, nil)
	require.NoError(t, err, "a terminal 5xx is returned, not an error")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_GetDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(testLogger())

	_, status, err := c.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_PostNeverRetriesAfterResponse(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(testLogger())

	_, status, err := c.Post(context.Background(), server.URL, nil, []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.EqualValues(t, 1, calls.Load(), "a delivered POST must never be replayed")
}

func TestClient_PostSendsHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-x", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"model": "m"}`, string(body))

		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := New(testLogger())

	_, status, err := c.Post(context.Background(), server.URL,
		map[string]string{"Authorization": "Bearer sk-x"},
		[]byte(`{"model": "m"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestClient_GzipDecompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`{"compressed": true}`))
		gz.Close()

		w.Write(buf.Bytes())
	}))
	defer server.Close()

	c := New(testLogger())

	// Disable the transport's automatic decompression so the handler's
	// explicit encoding header survives.
	body, _, err := c.Get(context.Background(), server.URL, map[string]string{"Accept-Encoding": "gzip"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"compressed": true}`, string(body))
}

func TestFailedBeforeSend(t *testing.T) {
	assert.True(t, failedBeforeSend(syscall.ECONNREFUSED))
	assert.True(t, failedBeforeSend(&net.OpError{Op: "dial", Err: errors.New("x")}))
	assert.True(t, failedBeforeSend(&net.DNSError{Err: "no such host"}))

	assert.False(t, failedBeforeSend(errors.New("mid-stream failure")))
	assert.False(t, failedBeforeSend(&net.OpError{Op: "read", Err: errors.New("reset")}))
}

func TestClient_OpenStreamReadsFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: delta\n")
		fmt.Fprint(w, "data: {\"n\": 1}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"n\": 2}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	c := New(testLogger())

	stream, err := c.OpenStream(context.Background(), server.URL, nil, []byte(`{}`))
	require.NoError(t, err)
	defer stream.Close()

	frame, err := stream.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1}`, string(frame))

	frame, err = stream.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 2}`, string(frame))

	frame, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", string(frame))

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClient_StreamCanceledByCaller(t *testing.T) {
	blocked := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()

		<-r.Context().Done()
		close(blocked)
	}))
	defer server.Close()

	c := New(testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	stream, err := c.OpenStream(ctx, server.URL, nil, []byte(`{}`))
	require.NoError(t, err)
	defer stream.Close()

	cancel()

	_, err = stream.Next()
	require.Error(t, err)

	<-blocked
}
