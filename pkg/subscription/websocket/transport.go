package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/jensneuse/abstractlogger"
	"go.uber.org/atomic"
)

var ErrTransportClosed = errors.New("transport is closed")

// Transport is a websocket client connection on top of a net.Conn.
// Reads and writes are interrupted on context cancellation by moving the connection deadline.
type Transport struct {
	logger  abstractlogger.Logger
	options TransportOptions

	mu sync.Mutex
	// conn holds the actual connection to the server.
	conn net.Conn
	// rw reads from the handshake buffer before reading from conn.
	rw      io.ReadWriter
	writeMu sync.Mutex
	// isClosedConnection indicates if Close was called.
	isClosedConnection atomic.Bool
	// isPeerClosedConnection indicates if the server closed the connection.
	isPeerClosedConnection atomic.Bool
}

// NewTransport will create a new websocket transport.
func NewTransport(options ...TransportOptionFunc) *Transport {
	definedOptions := newTransportOptions(options)
	return &Transport{
		logger:  definedOptions.Logger,
		options: definedOptions,
	}
}

// Open dials endpoint and performs the websocket upgrade, negotiating the graphql-ws subprotocol.
func (t *Transport) Open(ctx context.Context, endpoint *url.URL, cookies []*http.Cookie, header http.Header) error {
	if t.isClosedConnection.Load() {
		return ErrTransportClosed
	}

	dialer := ws.Dialer{
		Protocols: []string{string(t.options.Protocol)},
		Header:    ws.HandshakeHeaderHTTP(upgradeHeader(cookies, header)),
		Timeout:   t.options.HandshakeTimeout,
	}

	conn, br, hs, err := dialer.Dial(ctx, endpoint.String())
	if err != nil {
		t.logger.Error("websocket.Transport.Open: on dial",
			abstractlogger.String("endpoint", endpoint.String()),
			abstractlogger.Error(err),
		)
		return err
	}

	if hs.Protocol != string(t.options.Protocol) {
		t.logger.Warn("websocket.Transport.Open: on protocol negotiation",
			abstractlogger.String("message", "server did not confirm the subprotocol"),
			abstractlogger.String("expected", string(t.options.Protocol)),
			abstractlogger.String("actual", hs.Protocol),
		)
	}

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosedConnection.Load() {
		_ = conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.rw = rw

	return nil
}

// IsConnected will indicate if the websocket connection is still established.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.isClosedConnection.Load() && !t.isPeerClosedConnection.Load()
}

// Send will write a text frame to the server.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	conn, _, err := t.connection()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	err = wsutil.WriteClientMessage(conn, ws.OpText, data)
	if !stop() {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.logger.Error("websocket.Transport.Send",
			abstractlogger.Error(err),
			abstractlogger.ByteString("message", data),
		)

		if t.isClosedConnectionError(err) {
			return ErrTransportClosed
		}
		return err
	}

	return nil
}

// Receive will read the next data frame from the server. Control frames are answered internally.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	conn, rw, err := t.connection()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	data, opCode, err := t.readData(conn, rw)
	if !stop() {
		_ = conn.SetReadDeadline(time.Time{})
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if t.isClosedConnectionError(err) {
			return nil, ErrTransportClosed
		}

		t.logger.Error("websocket.Transport.Receive",
			abstractlogger.Error(err),
			abstractlogger.ByteString("data", data),
			abstractlogger.Any("opCode", opCode),
		)

		return nil, err
	}

	return data, nil
}

// readData reads the next text or binary message. Replies to control frames share writeMu with Send and Close.
func (t *Transport) readData(conn net.Conn, rw io.Reader) ([]byte, ws.OpCode, error) {
	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	lockedControlHandler := func(hdr ws.Header, r io.Reader) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return controlHandler(hdr, r)
	}

	rd := wsutil.Reader{
		Source:         rw,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: lockedControlHandler,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}

		if hdr.OpCode.IsControl() {
			if err := lockedControlHandler(hdr, &rd); err != nil {
				return nil, 0, err
			}
			continue
		}

		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, 0, err
			}
			continue
		}

		data, err := io.ReadAll(&rd)
		return data, hdr.OpCode, err
	}
}

// Close will send a close frame and close the connection.
func (t *Transport) Close(ctx context.Context, code int, reason string) error {
	t.mu.Lock()
	if !t.isClosedConnection.CAS(false, true) {
		t.mu.Unlock()
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.logger.Debug("websocket.Transport.Close",
		abstractlogger.String("message", "disconnecting from server"),
	)

	if !t.isPeerClosedConnection.Load() {
		t.writeMu.Lock()
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
		err := wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
		t.writeMu.Unlock()
		if err != nil {
			t.logger.Debug("websocket.Transport.Close: on writing close frame",
				abstractlogger.Error(err),
			)
		}
	}

	return conn.Close()
}

func (t *Transport) connection() (net.Conn, io.ReadWriter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.isClosedConnection.Load() {
		return nil, nil, ErrTransportClosed
	}
	return t.conn, t.rw, nil
}

// isClosedConnectionError will indicate if the given error is a connection closed error.
func (t *Transport) isClosedConnectionError(err error) bool {
	var closedErr wsutil.ClosedError
	if errors.As(err, &closedErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		t.isPeerClosedConnection.Store(true)
		return true
	}

	return false
}
