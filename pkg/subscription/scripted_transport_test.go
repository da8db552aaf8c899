package subscription

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/buger/jsonparser"
)

var errScriptedTransportClosed = errors.New("scripted transport closed")

// scriptedTransport replies to outbound messages with the frames registered for their type.
type scriptedTransport struct {
	mu         sync.Mutex
	script     map[string][]string
	openErr    error
	notLive    bool
	connected  bool
	inbound    chan []byte
	sent       [][]byte
	closeCalls int
	cookies    []*http.Cookie
	header     http.Header
	closed     chan struct{}
}

func newScriptedTransport(script map[string][]string) *scriptedTransport {
	return &scriptedTransport{
		script:  script,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// push queues an inbound frame as if the server had sent it.
func (s *scriptedTransport) push(frames ...string) {
	for _, frame := range frames {
		s.inbound <- []byte(frame)
	}
}

func (s *scriptedTransport) Open(_ context.Context, _ *url.URL, cookies []*http.Cookie, header http.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = cookies
	s.header = header
	if s.openErr != nil {
		return s.openErr
	}
	s.connected = !s.notLive
	return nil
}

func (s *scriptedTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedTransport) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return errScriptedTransportClosed
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	messageType, _ := jsonparser.GetString(data, "type")
	replies := s.script[messageType]
	s.mu.Unlock()

	s.push(replies...)
	return nil
}

func (s *scriptedTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case <-s.closed:
		return nil, errScriptedTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedTransport) Close(_ context.Context, _ int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.connected {
		s.connected = false
		close(s.closed)
	}
	return nil
}

func (s *scriptedTransport) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]string, 0, len(s.sent))
	for _, data := range s.sent {
		messages = append(messages, string(data))
	}
	return messages
}

func (s *scriptedTransport) sentTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.sent))
	for _, data := range s.sent {
		messageType, _ := jsonparser.GetString(data, "type")
		types = append(types, messageType)
	}
	return types
}

func (s *scriptedTransport) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
