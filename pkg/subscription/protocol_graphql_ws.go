package subscription

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jensneuse/abstractlogger"
)

const (
	GraphQLWSMessageTypeConnectionInit      = "connection_init"
	GraphQLWSMessageTypeConnectionAck       = "connection_ack"
	GraphQLWSMessageTypeConnectionError     = "connection_error"
	GraphQLWSMessageTypeConnectionTerminate = "connection_terminate"
	GraphQLWSMessageTypeConnectionKeepAlive = "ka"
	GraphQLWSMessageTypeStart               = "start"
	GraphQLWSMessageTypeStop                = "stop"
	GraphQLWSMessageTypeData                = "data"
	GraphQLWSMessageTypeError               = "error"
	GraphQLWSMessageTypeComplete            = "complete"
)

// DefaultSubscriptionID is the id of the single operation a Client starts.
const DefaultSubscriptionID = "1"

type GraphQLWSMessage struct {
	Id      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GraphQLWSStartPayload is the payload of a 'start' message.
type GraphQLWSStartPayload struct {
	OperationName string          `json:"operationName,omitempty"`
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
}

type GraphQLWSMessageReader struct {
	logger abstractlogger.Logger
}

func (g *GraphQLWSMessageReader) Read(data []byte) (*GraphQLWSMessage, error) {
	var message GraphQLWSMessage
	err := json.Unmarshal(data, &message)
	if err != nil {
		g.logger.Error("subscription.GraphQLWSMessageReader.Read: on json unmarshal",
			abstractlogger.Error(err),
			abstractlogger.ByteString("data", data),
		)

		return nil, err
	}
	return &message, nil
}

// GraphQLWSMessageWriter writes graphql-ws client messages to a Transport.
type GraphQLWSMessageWriter struct {
	logger    abstractlogger.Logger
	transport Transport
	mu        *sync.Mutex
}

func (g *GraphQLWSMessageWriter) WriteInit(ctx context.Context) error {
	message := &GraphQLWSMessage{
		Type: GraphQLWSMessageTypeConnectionInit,
	}
	return g.write(ctx, message)
}

func (g *GraphQLWSMessageWriter) WriteStart(ctx context.Context, id string, payload GraphQLWSStartPayload) error {
	if payload.Variables == nil {
		payload.Variables = json.RawMessage("null")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	message := &GraphQLWSMessage{
		Id:      id,
		Type:    GraphQLWSMessageTypeStart,
		Payload: payloadBytes,
	}
	return g.write(ctx, message)
}

func (g *GraphQLWSMessageWriter) WriteStop(ctx context.Context, id string) error {
	message := &GraphQLWSMessage{
		Id:   id,
		Type: GraphQLWSMessageTypeStop,
	}
	return g.write(ctx, message)
}

func (g *GraphQLWSMessageWriter) WriteTerminate(ctx context.Context) error {
	message := &GraphQLWSMessage{
		Type: GraphQLWSMessageTypeConnectionTerminate,
	}
	return g.write(ctx, message)
}

func (g *GraphQLWSMessageWriter) write(ctx context.Context, message *GraphQLWSMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		g.logger.Error("subscription.GraphQLWSMessageWriter.write: on json marshal",
			abstractlogger.Error(err),
			abstractlogger.String("id", message.Id),
			abstractlogger.String("type", message.Type),
			abstractlogger.ByteString("payload", message.Payload),
		)
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transport.Send(ctx, jsonData)
}
