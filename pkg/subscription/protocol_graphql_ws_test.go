package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphQLWSMessageReader_Read(t *testing.T) {
	reader := GraphQLWSMessageReader{
		logger: abstractlogger.Noop{},
	}

	t.Run("should read data message", func(t *testing.T) {
		data := []byte(`{"id":"1","type":"data","payload":{"data":{"getData":{"id":"1"}}}}`)
		expectedMessage := &GraphQLWSMessage{
			Id:      "1",
			Type:    "data",
			Payload: json.RawMessage(`{"data":{"getData":{"id":"1"}}}`),
		}

		message, err := reader.Read(data)
		assert.NoError(t, err)
		assert.Equal(t, expectedMessage, message)
	})

	t.Run("should read message without payload", func(t *testing.T) {
		message, err := reader.Read([]byte(`{"type":"ka"}`))
		assert.NoError(t, err)
		assert.Equal(t, GraphQLWSMessageTypeConnectionKeepAlive, message.Type)
		assert.Empty(t, message.Id)
		assert.Nil(t, message.Payload)
	})

	t.Run("should fail on invalid json", func(t *testing.T) {
		_, err := reader.Read([]byte(`{"type":`))
		assert.Error(t, err)
	})
}

func TestGraphQLWSMessageWriter(t *testing.T) {
	ctx := context.Background()

	newWriter := func(t *testing.T) (*GraphQLWSMessageWriter, *MockTransport) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)
		transport := NewMockTransport(ctrl)
		return &GraphQLWSMessageWriter{
			logger:    abstractlogger.Noop{},
			transport: transport,
			mu:        &sync.Mutex{},
		}, transport
	}

	t.Run("should write connection_init", func(t *testing.T) {
		writer, transport := newWriter(t)
		transport.EXPECT().Send(gomock.Any(), []byte(`{"type":"connection_init"}`)).Return(nil)

		assert.NoError(t, writer.WriteInit(ctx))
	})

	t.Run("should write start with null variables", func(t *testing.T) {
		writer, transport := newWriter(t)
		transport.EXPECT().
			Send(gomock.Any(), []byte(`{"id":"1","type":"start","payload":{"query":"subscription { a }","variables":null}}`)).
			Return(nil)

		err := writer.WriteStart(ctx, DefaultSubscriptionID, GraphQLWSStartPayload{Query: "subscription { a }"})
		assert.NoError(t, err)
	})

	t.Run("should write start with operation name and variables", func(t *testing.T) {
		writer, transport := newWriter(t)
		transport.EXPECT().
			Send(gomock.Any(), []byte(`{"id":"1","type":"start","payload":{"operationName":"A","query":"subscription A($id: ID) { a(id: $id) }","variables":{"id":"7"}}}`)).
			Return(nil)

		err := writer.WriteStart(ctx, DefaultSubscriptionID, GraphQLWSStartPayload{
			OperationName: "A",
			Query:         "subscription A($id: ID) { a(id: $id) }",
			Variables:     json.RawMessage(`{"id":"7"}`),
		})
		assert.NoError(t, err)
	})

	t.Run("should write stop", func(t *testing.T) {
		writer, transport := newWriter(t)
		transport.EXPECT().Send(gomock.Any(), []byte(`{"id":"1","type":"stop"}`)).Return(nil)

		assert.NoError(t, writer.WriteStop(ctx, DefaultSubscriptionID))
	})

	t.Run("should write connection_terminate", func(t *testing.T) {
		writer, transport := newWriter(t)
		transport.EXPECT().Send(gomock.Any(), []byte(`{"type":"connection_terminate"}`)).Return(nil)

		assert.NoError(t, writer.WriteTerminate(ctx))
	})

	t.Run("should return transport errors", func(t *testing.T) {
		writer, transport := newWriter(t)
		sendErr := errors.New("broken pipe")
		transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(sendErr)

		err := writer.WriteInit(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, sendErr)
	})
}
