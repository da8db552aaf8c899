package subscription

//go:generate mockgen -destination=transport_mock_test.go -package=subscription . Transport

import (
	"context"
	"net/http"
	"net/url"
)

// Transport provides an interface that can be implemented by any message oriented duplex connection,
// e.g. websockets. It operates with raw byte slices, one slice per frame.
type Transport interface {
	// Open establishes the connection to the endpoint and performs the connection upgrade.
	Open(ctx context.Context, endpoint *url.URL, cookies []*http.Cookie, header http.Header) error
	// IsConnected will indicate if a connection is still established.
	IsConnected() bool
	// Send writes one complete text frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until one complete frame is available, the connection is closed or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	// Close initiates the close handshake and releases the connection. Closing twice is a no-op.
	Close(ctx context.Context, code int, reason string) error
}

// StatusNormalClosure is the websocket close code used for a regular disconnect.
const StatusNormalClosure = 1000
