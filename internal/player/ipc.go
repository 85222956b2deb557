// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// ipcEvent is an unsolicited frame from the player process.
type ipcEvent struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

type ipcResponse struct {
	err  string
	data json.RawMessage
}

// ipcClient speaks the newline-delimited JSON command protocol over a
// local socket. One pending slot per request_id; responses and
// unsolicited events share the read loop.
type ipcClient struct {
	conn    net.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan ipcResponse
	nextID  int64

	events    chan ipcEvent
	closed    chan struct{}
	closeOnce sync.Once
}

// dialIPC connects to the player socket, retrying while the subprocess
// creates its endpoint.
func dialIPC(socket string, retries int, delay, timeout time.Duration) (*ipcClient, error) {
	var conn net.Conn
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		time.Sleep(delay)
		conn, err = net.Dial("unix", socket)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("player: %w: connect %s after %d attempts: %v",
			model.ErrIpcDisconnect, socket, retries, err)
	}

	c := &ipcClient{
		conn:    conn,
		timeout: timeout,
		pending: make(map[int64]chan ipcResponse),
		events:  make(chan ipcEvent, 16),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *ipcClient) readLoop() {
	defer c.Close()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		var frame struct {
			RequestID int64           `json:"request_id"`
			Error     string          `json:"error"`
			Data      json.RawMessage `json:"data"`
			Event     string          `json:"event"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		if frame.Event != "" {
			select {
			case c.events <- ipcEvent{Event: frame.Event, Reason: frame.Reason}:
			default: // observer lagging, old events are stale anyway
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.RequestID]
		if ok {
			delete(c.pending, frame.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- ipcResponse{err: frame.Error, data: frame.Data}
		}
	}
}

// request sends one command and awaits its response. A timeout drops the
// pending slot but leaves the subprocess running.
func (c *ipcClient) request(args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan ipcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]any{"command": args, "request_id": id})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("player: marshal ipc request: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		metrics.IPCRequestTotal.WithLabelValues("disconnect").Inc()
		return nil, fmt.Errorf("player: %w: %v", model.ErrIpcDisconnect, err)
	}

	select {
	case resp := <-ch:
		if resp.err != "" && resp.err != "success" {
			metrics.IPCRequestTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("player: ipc command rejected: %s", resp.err)
		}
		metrics.IPCRequestTotal.WithLabelValues("success").Inc()
		return resp.data, nil
	case <-c.closed:
		c.dropPending(id)
		metrics.IPCRequestTotal.WithLabelValues("disconnect").Inc()
		return nil, fmt.Errorf("player: %w", model.ErrIpcDisconnect)
	case <-time.After(c.timeout):
		c.dropPending(id)
		metrics.IPCRequestTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("player: %w: no response within %s", model.ErrIpcTimeout, c.timeout)
	}
}

func (c *ipcClient) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Events exposes unsolicited player events such as end-file.
func (c *ipcClient) Events() <-chan ipcEvent {
	return c.events
}

// Close tears the connection down and fails all pending requests.
func (c *ipcClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Done is closed once the connection is gone.
func (c *ipcClient) Done() <-chan struct{} {
	return c.closed
}
