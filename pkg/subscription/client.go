package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"
	"go.uber.org/atomic"
	"golang.org/x/exp/slices"

	"github.com/TykTechnologies/graphql-ws-client/pkg/subscription/websocket"
)

const DefaultCloseTimeout = 5 * time.Second

const (
	messageCouldNotEstablishConnection  = "could not establish connection"
	messageUnexpectedConnectionResponse = "unexpected connection response"
)

var ErrGraphQLWSUnexpectedMessageType = errors.New("unexpected message type")

type ReceivedHandler func(response *Response)

type ErrorHandler func(err *Error)

type CompletedHandler func()

type Options struct {
	Logger        abstractlogger.Logger
	Transport     Transport
	CloseTimeout  time.Duration
	OperationName string
	// ValidateQuery rejects queries which do not parse or contain no subscription operation.
	ValidateQuery bool
}

type OptionFunc func(opts *Options)

func WithLogger(logger abstractlogger.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithTransport(transport Transport) OptionFunc {
	return func(opts *Options) {
		opts.Transport = transport
	}
}

func WithCloseTimeout(closeTimeout time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.CloseTimeout = closeTimeout
	}
}

func WithOperationName(operationName string) OptionFunc {
	return func(opts *Options) {
		opts.OperationName = operationName
	}
}

func WithQueryValidation() OptionFunc {
	return func(opts *Options) {
		opts.ValidateQuery = true
	}
}

// Client runs exactly one graphql-ws subscription over one connection.
type Client struct {
	logger        abstractlogger.Logger
	endpoint      *url.URL
	query         string
	variables     json.RawMessage
	operationName string
	closeTimeout  time.Duration
	transport     Transport
	reader        GraphQLWSMessageReader
	writer        GraphQLWSMessageWriter

	mu                sync.Mutex
	state             State
	cookies           []*http.Cookie
	header            http.Header
	receivedHandlers  []ReceivedHandler
	errorHandlers     []ErrorHandler
	completedHandlers []CompletedHandler
	cancelLoop        context.CancelFunc
	loopDone          chan struct{}

	// ctx lives as long as the client and is cancelled on Dispose.
	ctx         context.Context
	cancel      context.CancelFunc
	disposed    atomic.Bool
	closeOnce   sync.Once
	disposeOnce sync.Once
	disposeErr  error
	// loopGoroutine identifies the goroutine running the receive loop and its handlers.
	loopGoroutine atomic.Uint64
}

// NewClient creates a subscription client for the given endpoint and query.
// variables may be nil.
func NewClient(endpoint, query string, variables json.RawMessage, options ...OptionFunc) (*Client, error) {
	definedOptions := Options{
		Logger: abstractlogger.Noop{},
	}

	for _, optionFunc := range options {
		optionFunc(&definedOptions)
	}

	return NewClientWithOptions(endpoint, query, variables, definedOptions)
}

func NewClientWithOptions(endpoint, query string, variables json.RawMessage, options Options) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint must not be blank", ErrInvalidArgument)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be blank", ErrInvalidArgument)
	}

	endpointURL, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	if len(variables) > 0 && !json.Valid(variables) {
		return nil, fmt.Errorf("%w: variables must be a valid json document", ErrInvalidArgument)
	}

	if options.ValidateQuery {
		if err := validateSubscriptionQuery(query); err != nil {
			return nil, err
		}
	}

	// Use noop logger to prevent nil pointers if none was provided
	if options.Logger == nil {
		options.Logger = abstractlogger.Noop{}
	}

	if options.Transport == nil {
		options.Transport = websocket.NewTransport(websocket.WithLogger(options.Logger))
	}

	if options.CloseTimeout <= 0 {
		options.CloseTimeout = DefaultCloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		logger:        options.Logger,
		endpoint:      endpointURL,
		query:         query,
		variables:     variables,
		operationName: options.OperationName,
		closeTimeout:  options.CloseTimeout,
		transport:     options.Transport,
		reader: GraphQLWSMessageReader{
			logger: options.Logger,
		},
		writer: GraphQLWSMessageWriter{
			logger:    options.Logger,
			transport: options.Transport,
			mu:        &sync.Mutex{},
		},
		state:  StateCreated,
		header: http.Header{},
		ctx:    ctx,
		cancel: cancel,
	}

	return client, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURI, err.Error())
	}

	switch endpointURL.Scheme {
	case "ws", "wss":
	case "http":
		endpointURL.Scheme = "ws"
	case "https":
		endpointURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, endpointURL.Scheme)
	}

	if endpointURL.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURI)
	}

	return endpointURL, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetCookie adds a cookie to the connection upgrade request. It must be called before Connect.
func (c *Client) SetCookie(name, value string) error {
	if err := c.checkConfigurable(name, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.configurableState(); err != nil {
		return err
	}

	for i := range c.cookies {
		if c.cookies[i].Name == name {
			c.cookies[i].Value = value
			return nil
		}
	}
	c.cookies = append(c.cookies, &http.Cookie{Name: name, Value: value})
	return nil
}

// SetHeader sets a header of the connection upgrade request. It must be called before Connect.
func (c *Client) SetHeader(name, value string) error {
	if err := c.checkConfigurable(name, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.configurableState(); err != nil {
		return err
	}

	c.header.Set(name, value)
	return nil
}

func (c *Client) checkConfigurable(name, value string) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidArgument)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: value must not be blank", ErrInvalidArgument)
	}
	return nil
}

// configurableState must be called with c.mu held.
func (c *Client) configurableState() error {
	switch c.state {
	case StateCreated:
		return nil
	case StateDisposed:
		return ErrDisposed
	default:
		return fmt.Errorf("%w: connection configuration can not change in state %s", ErrInvalidState, c.state)
	}
}

func (c *Client) OnReceived(handler ReceivedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivedHandlers = append(c.receivedHandlers, handler)
}

func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandlers = append(c.errorHandlers, handler)
}

func (c *Client) OnCompleted(handler CompletedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedHandlers = append(c.completedHandlers, handler)
}

// Connect opens the connection, runs the handshake, starts the subscription and
// blocks until the subscription has ended. Only the first call has an effect.
// Failures of the running protocol are delivered to the error handlers. Connect
// returns ctx.Err() if ctx was the reason the subscription ended.
func (c *Client) Connect(ctx context.Context) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.mu.Lock()
	switch c.state {
	case StateCreated:
	case StateDisposed:
		c.mu.Unlock()
		return ErrDisposed
	default:
		c.mu.Unlock()
		return nil
	}

	c.state = StateConnecting
	loopCtx, cancelLoop := context.WithCancel(c.ctx)
	loopDone := make(chan struct{})
	c.cancelLoop = cancelLoop
	c.loopDone = loopDone
	cookies := make([]*http.Cookie, 0, len(c.cookies))
	for _, cookie := range c.cookies {
		cookieCopy := *cookie
		cookies = append(cookies, &cookieCopy)
	}
	header := c.header.Clone()
	c.mu.Unlock()

	stopOnCancel := stopLoopOnCancel(ctx, loopDone, cancelLoop)

	go c.run(loopCtx, cookies, header, loopDone)
	<-loopDone

	causedByCaller := stopOnCancel()
	cancelLoop()

	if causedByCaller {
		return ctx.Err()
	}
	return nil
}

// Disconnect stops the subscription and closes the connection. It is safe to call in any state.
// Called from within a handler it does not wait for the receive loop to exit.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	cancelLoop := c.cancelLoop
	loopDone := c.loopDone
	if state == StateCreated || state == StateDisposed || loopDone == nil {
		c.mu.Unlock()
		return nil
	}
	if state.active() {
		c.state = StateDisconnecting
	}
	c.mu.Unlock()

	var err error
	if state.active() {
		c.logger.Debug("subscription.Client.Disconnect: on disconnect",
			abstractlogger.String("state", state.String()),
		)
		if shutdownErr := c.shutdown(state == StateStreaming); shutdownErr != nil {
			err = shutdownErr
		}
	}
	cancelLoop()

	if c.onLoopGoroutine() {
		return err
	}

	select {
	case <-loopDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	return err
}

// Dispose disconnects and releases the transport. The client can not be used afterwards.
func (c *Client) Dispose() error {
	c.disposeOnce.Do(func() {
		c.disposed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		defer cancel()

		c.disposeErr = c.Disconnect(ctx)

		c.mu.Lock()
		c.state = StateDisposed
		c.mu.Unlock()

		c.cancel()
		if err := c.shutdown(false); err != nil && c.disposeErr == nil {
			c.disposeErr = err
		}
	})

	return c.disposeErr
}

// stopLoopOnCancel cancels the loop when ctx ends before done is closed. The returned func
// detaches from ctx and reports whether ctx stopped the loop.
func stopLoopOnCancel(ctx context.Context, done <-chan struct{}, cancelLoop context.CancelFunc) func() bool {
	var fired atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-done:
		default:
			fired.Store(true)
			cancelLoop()
		}
	})

	return func() bool {
		stop()
		return fired.Load()
	}
}

func (c *Client) run(ctx context.Context, cookies []*http.Cookie, header http.Header, done chan struct{}) {
	c.loopGoroutine.Store(goroutineID())
	defer close(done)
	defer c.finish()

	err := c.transport.Open(ctx, c.endpoint, cookies, header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		c.logger.Error("subscription.Client.run: on opening transport",
			abstractlogger.String("endpoint", c.endpoint.String()),
			abstractlogger.Error(err),
		)

		c.emitError(newError(ErrorKindConnection, err, err.Error()))
		return
	}

	if !c.transport.IsConnected() {
		c.emitError(newError(ErrorKindConnection, nil, messageCouldNotEstablishConnection))
		return
	}

	if !c.transition(StateConnecting, StateHandshaking) {
		return
	}

	if err := c.writer.WriteInit(ctx); err != nil {
		if c.stopped(ctx) {
			return
		}
		c.emitError(newError(ErrorKindSubscription, err, messageUnexpectedConnectionResponse))
		return
	}

	if !c.handshake(ctx) {
		return
	}

	if !c.transition(StateHandshaking, StateStreaming) {
		return
	}

	err = c.writer.WriteStart(ctx, DefaultSubscriptionID, GraphQLWSStartPayload{
		OperationName: c.operationName,
		Query:         c.query,
		Variables:     c.variables,
	})
	if err != nil {
		if c.stopped(ctx) {
			return
		}
		c.emitError(newError(ErrorKindSubscription, err, "could not start subscription"))
		return
	}

	c.stream(ctx)
}

func (c *Client) handshake(ctx context.Context) bool {
	for {
		data, err := c.transport.Receive(ctx)
		if err != nil {
			if c.stopped(ctx) {
				return false
			}
			c.emitError(newError(ErrorKindSubscription, err, messageUnexpectedConnectionResponse))
			return false
		}

		message, err := c.reader.Read(data)
		if err != nil {
			c.emitError(newError(ErrorKindSubscription, err, messageUnexpectedConnectionResponse))
			return false
		}

		switch message.Type {
		case GraphQLWSMessageTypeConnectionAck:
			return true
		case GraphQLWSMessageTypeConnectionKeepAlive:
			continue
		case GraphQLWSMessageTypeConnectionError:
			c.emitError(newError(ErrorKindSubscription, nil, connectionErrorMessage(message.Payload)))
			return false
		default:
			c.emitError(newError(ErrorKindSubscription,
				fmt.Errorf("%w: %s", ErrGraphQLWSUnexpectedMessageType, message.Type),
				messageUnexpectedConnectionResponse,
			))
			return false
		}
	}
}

func (c *Client) stream(ctx context.Context) {
	for {
		data, err := c.transport.Receive(ctx)
		if err != nil {
			if c.stopped(ctx) {
				return
			}

			c.logger.Error("subscription.Client.stream: on receiving message",
				abstractlogger.Error(err),
			)

			c.emitError(newError(ErrorKindConnection, err, err.Error()))
			return
		}

		if c.stopped(ctx) {
			return
		}

		message, err := c.reader.Read(data)
		if err != nil {
			c.beginDisconnect()
			c.emitError(newError(ErrorKindUnhandledResponseType, err, "could not read message"))
			return
		}

		switch message.Type {
		case GraphQLWSMessageTypeData:
			response, err := NewResponse(message.Payload)
			if err != nil {
				c.beginDisconnect()
				c.emitError(newError(ErrorKindUnhandledResponseType, err, "malformed data payload"))
				return
			}
			c.emitReceived(response)
		case GraphQLWSMessageTypeConnectionKeepAlive:
			continue
		case GraphQLWSMessageTypeError:
			c.beginDisconnect()
			c.emitError(newError(ErrorKindGqlError, nil, errorMessagesFromPayload(message.Payload)...))
			return
		case GraphQLWSMessageTypeComplete:
			c.beginDisconnect()
			c.emitCompleted()
			return
		default:
			c.logger.Warn("subscription.Client.stream: on unhandled message type",
				abstractlogger.String("id", message.Id),
				abstractlogger.String("type", message.Type),
				abstractlogger.ByteString("payload", message.Payload),
			)

			c.beginDisconnect()
			c.emitError(newError(ErrorKindUnhandledResponseType,
				fmt.Errorf("%w: %s", ErrGraphQLWSUnexpectedMessageType, message.Type),
				fmt.Sprintf("unhandled response type: %s", message.Type),
			))
			return
		}
	}
}

// finish runs when the receive loop exits and leaves the client disconnected.
func (c *Client) finish() {
	c.mu.Lock()
	sendStop := c.state == StateStreaming
	if c.state != StateDisposed {
		c.state = StateDisconnecting
	}
	c.mu.Unlock()

	if err := c.shutdown(sendStop); err != nil {
		c.emitError(err)
	}

	// Open may have completed after a concurrent shutdown, closing again releases that connection.
	ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
	defer cancel()
	_ = c.transport.Close(ctx, StatusNormalClosure, "")

	c.mu.Lock()
	if c.state != StateDisposed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.logger.Debug("subscription.Client.finish: on receive loop exit",
		abstractlogger.String("endpoint", c.endpoint.String()),
	)
}

// shutdown sends the closing messages and closes the transport. Only the first call has an effect,
// it returns an error of kind Disconnect or Stop.
func (c *Client) shutdown(sendStop bool) (err *Error) {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		defer cancel()

		if c.transport.IsConnected() {
			if sendStop {
				if stopErr := c.writer.WriteStop(ctx, DefaultSubscriptionID); stopErr != nil {
					c.logger.Debug("subscription.Client.shutdown: on writing stop message",
						abstractlogger.Error(stopErr),
					)
					err = newError(ErrorKindStop, stopErr, "could not stop subscription")
				}
			}

			if terminateErr := c.writer.WriteTerminate(ctx); terminateErr != nil {
				c.logger.Debug("subscription.Client.shutdown: on writing terminate message",
					abstractlogger.Error(terminateErr),
				)
			}
		}

		if closeErr := c.transport.Close(ctx, StatusNormalClosure, "normal closure"); closeErr != nil {
			c.logger.Error("subscription.Client.shutdown: on closing transport",
				abstractlogger.Error(closeErr),
			)
			err = newError(ErrorKindDisconnect, closeErr, "could not close connection")
		}
	})

	return err
}

func (c *Client) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	c.logger.Debug("subscription.Client.transition: on state change",
		abstractlogger.String("from", from.String()),
		abstractlogger.String("to", to.String()),
	)
	return true
}

func (c *Client) beginDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisposed {
		c.state = StateDisconnecting
	}
}

// onLoopGoroutine reports whether the caller runs on the receive loop, i.e. inside a handler.
func (c *Client) onLoopGoroutine() bool {
	id := c.loopGoroutine.Load()
	return id != 0 && id == goroutineID()
}

// stopped reports whether the loop was cancelled or a disconnect is in progress.
func (c *Client) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisconnecting || c.state == StateDisposed
}

func (c *Client) emitReceived(response *Response) {
	c.mu.Lock()
	handlers := slices.Clone(c.receivedHandlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(response)
	}
}

func (c *Client) emitError(err *Error) {
	c.logger.Debug("subscription.Client.emitError: on protocol error",
		abstractlogger.String("kind", err.Kind.String()),
		abstractlogger.Any("messages", err.Messages),
	)

	c.mu.Lock()
	handlers := slices.Clone(c.errorHandlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(err)
	}
}

func (c *Client) emitCompleted() {
	c.mu.Lock()
	handlers := slices.Clone(c.completedHandlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
