package filesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Conn is one websocket connection carrying named events and
// request/acknowledgement pairs.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan envelope
	closed  chan struct{}
	once    sync.Once

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newConn(ws *websocket.Conn, logger *slog.Logger, m *metrics.Metrics) *Conn {
	return &Conn{
		ws:      ws,
		pending: make(map[uint64]chan envelope),
		closed:  make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
}

// Emit sends a named event without waiting for a reply.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(envelope{Event: event, Data: data})
}

// Request sends a request with positional args and waits for its
// acknowledgement. The ack data is decoded into result when result is
// non-nil.
func (c *Conn) Request(ctx context.Context, event string, result any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	ch := make(chan envelope, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return errors.New("A120").WithDetail(event + ": connection closed")
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(envelope{Event: event, ID: id, Data: data}); err != nil {
		return errors.New("A120").WithDetail(event).Wrap(err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.New("A120").WithDetail(event + ": connection closed")
	case env := <-ch:
		if env.Error != "" {
			return remoteError(event, env)
		}
		if result != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, result); err != nil {
				return errors.New("A122").WithDetail(event).Wrap(err)
			}
		}
		return nil
	}
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close closes the underlying websocket.
func (c *Conn) Close() error {
	c.shutdown()
	return c.ws.Close()
}

func (c *Conn) reply(id uint64, result any, err error) error {
	env := envelope{Ack: id}
	if err != nil {
		env.Error = err.Error()
		env.Code = errors.CodeOf(err)
	} else if result != nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			return mErr
		}
		env.Data = data
	}
	return c.write(env)
}

func (c *Conn) write(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if env.Event != "" {
		c.metrics.Message("out", env.Event)
	}
	return nil
}

// readLoop reads envelopes until the connection fails. Acks are routed to
// their waiting requests; everything else is passed to handle in arrival
// order.
func (c *Conn) readLoop(handle func(envelope)) error {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed message dropped", "error", errors.New("A122").Wrap(err))
			continue
		}

		if env.Event == "" {
			c.resolve(env)
			continue
		}
		c.metrics.Message("in", env.Event)
		handle(env)
	}
}

func (c *Conn) resolve(env envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.Ack]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown request", "id", env.Ack)
		return
	}
	select {
	case ch <- env:
	default:
		c.logger.Debug("duplicate ack dropped", "id", env.Ack)
	}
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.closed)
		c.mu.Unlock()
	})
}

// remoteError rebuilds an error reported by the other side. The remote code
// is kept so errors.IsCode sees it through the A121 wrapper.
func remoteError(event string, env envelope) error {
	err := errors.New("A121").WithDetail(event)
	if env.Code == "" {
		return err.Wrap(errorString(env.Error))
	}
	remote := errors.New(env.Code)
	remote.Message = strings.TrimPrefix(env.Error, env.Code+": ")
	return err.Wrap(remote)
}

type errorString string

func (e errorString) Error() string { return string(e) }

// decodeArgs decodes a positional argument array into dst. Missing trailing
// arguments leave their destinations untouched.
func decodeArgs(data json.RawMessage, dst ...any) error {
	var raw []json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return errors.New("A122").Wrap(err)
		}
	}
	for i, d := range dst {
		if i >= len(raw) {
			break
		}
		if err := json.Unmarshal(raw[i], d); err != nil {
			return errors.New("A122").WithDetailf("argument %d", i).Wrap(err)
		}
	}
	return nil
}
