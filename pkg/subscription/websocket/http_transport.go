package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/jensneuse/abstractlogger"
	"go.uber.org/atomic"
	nhooyr "nhooyr.io/websocket"
)

// DefaultReadLimit is the maximum inbound message size of an HTTPTransport.
const DefaultReadLimit int64 = 1 << 20

// HTTPTransport is a websocket client connection dialed through a net/http client,
// which makes proxies, custom TLS settings and round trippers of that client apply.
// Cancelling a Receive or Send context makes the connection unusable, so it should only
// be cancelled when the connection is about to be closed anyway.
type HTTPTransport struct {
	logger  abstractlogger.Logger
	options TransportOptions

	mu                 sync.Mutex
	conn               *nhooyr.Conn
	isClosedConnection atomic.Bool
	isBrokenConnection atomic.Bool
}

func NewHTTPTransport(options ...TransportOptionFunc) *HTTPTransport {
	definedOptions := newTransportOptions(options)
	if definedOptions.ReadLimit <= 0 {
		definedOptions.ReadLimit = DefaultReadLimit
	}
	return &HTTPTransport{
		logger:  definedOptions.Logger,
		options: definedOptions,
	}
}

func (h *HTTPTransport) Open(ctx context.Context, endpoint *url.URL, cookies []*http.Cookie, header http.Header) error {
	if h.isClosedConnection.Load() {
		return ErrTransportClosed
	}

	dialCtx := ctx
	if h.options.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, h.options.HandshakeTimeout)
		defer cancel()
	}

	conn, _, err := nhooyr.Dial(dialCtx, endpoint.String(), &nhooyr.DialOptions{
		HTTPClient:   h.options.HTTPClient,
		HTTPHeader:   upgradeHeader(cookies, header),
		Subprotocols: []string{string(h.options.Protocol)},
	})
	if err != nil {
		h.logger.Error("websocket.HTTPTransport.Open: on dial",
			abstractlogger.String("endpoint", endpoint.String()),
			abstractlogger.Error(err),
		)
		return err
	}

	conn.SetReadLimit(h.options.ReadLimit)

	if conn.Subprotocol() != string(h.options.Protocol) {
		h.logger.Warn("websocket.HTTPTransport.Open: on protocol negotiation",
			abstractlogger.String("message", "server did not confirm the subprotocol"),
			abstractlogger.String("expected", string(h.options.Protocol)),
			abstractlogger.String("actual", conn.Subprotocol()),
		)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isClosedConnection.Load() {
		_ = conn.Close(nhooyr.StatusGoingAway, "")
		return ErrTransportClosed
	}
	h.conn = conn

	return nil
}

func (h *HTTPTransport) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.isClosedConnection.Load() && !h.isBrokenConnection.Load()
}

func (h *HTTPTransport) Send(ctx context.Context, data []byte) error {
	conn, err := h.connection()
	if err != nil {
		return err
	}

	if err := conn.Write(ctx, nhooyr.MessageText, data); err != nil {
		return h.handleError(ctx, "websocket.HTTPTransport.Send", err)
	}
	return nil
}

func (h *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	conn, err := h.connection()
	if err != nil {
		return nil, err
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, h.handleError(ctx, "websocket.HTTPTransport.Receive", err)
	}
	return data, nil
}

func (h *HTTPTransport) Close(_ context.Context, code int, reason string) error {
	h.mu.Lock()
	if !h.isClosedConnection.CAS(false, true) {
		h.mu.Unlock()
		return nil
	}
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close(nhooyr.StatusCode(code), reason)
	if err != nil && h.isBrokenConnection.Load() {
		h.logger.Debug("websocket.HTTPTransport.Close: on closing broken connection",
			abstractlogger.Error(err),
		)
		return nil
	}
	return err
}

func (h *HTTPTransport) connection() (*nhooyr.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.isClosedConnection.Load() {
		return nil, ErrTransportClosed
	}
	return h.conn, nil
}

// handleError marks the connection as broken, the library closes it on any read or write failure.
func (h *HTTPTransport) handleError(ctx context.Context, location string, err error) error {
	h.isBrokenConnection.Store(true)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if nhooyr.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
		return ErrTransportClosed
	}

	h.logger.Error(location,
		abstractlogger.Error(err),
	)
	return err
}
