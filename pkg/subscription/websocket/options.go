package websocket

import (
	"net/http"
	"time"

	"github.com/jensneuse/abstractlogger"
)

type Protocol string

const (
	ProtocolGraphQLWS Protocol = "graphql-ws"
)

var DefaultProtocol Protocol = ProtocolGraphQLWS

const DefaultHandshakeTimeout = 10 * time.Second

type TransportOptions struct {
	Logger           abstractlogger.Logger
	Protocol         Protocol
	HandshakeTimeout time.Duration
	// HTTPClient is only used by the HTTPTransport.
	HTTPClient *http.Client
	// ReadLimit is the maximum size of an inbound message in bytes, zero keeps the library default.
	ReadLimit int64
}

type TransportOptionFunc func(opts *TransportOptions)

func WithLogger(logger abstractlogger.Logger) TransportOptionFunc {
	return func(opts *TransportOptions) {
		opts.Logger = logger
	}
}

func WithProtocol(protocol Protocol) TransportOptionFunc {
	return func(opts *TransportOptions) {
		opts.Protocol = protocol
	}
}

func WithHandshakeTimeout(handshakeTimeout time.Duration) TransportOptionFunc {
	return func(opts *TransportOptions) {
		opts.HandshakeTimeout = handshakeTimeout
	}
}

func WithHTTPClient(httpClient *http.Client) TransportOptionFunc {
	return func(opts *TransportOptions) {
		opts.HTTPClient = httpClient
	}
}

func WithReadLimit(readLimit int64) TransportOptionFunc {
	return func(opts *TransportOptions) {
		opts.ReadLimit = readLimit
	}
}

func newTransportOptions(options []TransportOptionFunc) TransportOptions {
	definedOptions := TransportOptions{
		Logger:           abstractlogger.Noop{},
		Protocol:         DefaultProtocol,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}

	for _, optionFunc := range options {
		optionFunc(&definedOptions)
	}

	// Use noop logger to prevent nil pointers if none was provided
	if definedOptions.Logger == nil {
		definedOptions.Logger = abstractlogger.Noop{}
	}

	return definedOptions
}

// upgradeHeader merges cookies into a copy of header.
func upgradeHeader(cookies []*http.Cookie, header http.Header) http.Header {
	request := &http.Request{Header: header.Clone()}
	if request.Header == nil {
		request.Header = http.Header{}
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	return request.Header
}
