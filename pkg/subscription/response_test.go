package subscription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type getData struct {
	Id    string `json:"id"`
	Entry string `json:"entry"`
}

func TestResponse_DataFieldAs(t *testing.T) {
	response, err := NewResponse([]byte(`{"data":{"getData":{"id":"1","entry":"x"},"nothing":null,"count":3,"name":"udo"}}`))
	require.NoError(t, err)

	t.Run("should deserialize an object field", func(t *testing.T) {
		value, err := DataFieldAs[getData](response, "getData")
		require.NoError(t, err)
		require.NotNil(t, value)
		assert.Equal(t, "1", value.Id)
		assert.Equal(t, "x", value.Entry)
	})

	t.Run("should deserialize scalar fields", func(t *testing.T) {
		count, err := DataFieldAs[int](response, "count")
		require.NoError(t, err)
		assert.Equal(t, 3, *count)

		name, err := DataFieldAs[string](response, "name")
		require.NoError(t, err)
		assert.Equal(t, "udo", *name)
	})

	t.Run("should return nil for null fields", func(t *testing.T) {
		value, err := DataFieldAs[getData](response, "nothing")
		assert.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("should fail with field not found on missing fields", func(t *testing.T) {
		_, err := DataFieldAs[getData](response, "missingField")
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("should not interpret field names as paths", func(t *testing.T) {
		_, err := DataFieldAs[string](response, "getData.id")
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("should fail with deserialization error on shape mismatch", func(t *testing.T) {
		_, err := DataFieldAs[[]string](response, "getData")
		assert.ErrorIs(t, err, ErrDeserialization)
	})
}

func TestResponse_RawData(t *testing.T) {
	t.Run("should return the data document verbatim", func(t *testing.T) {
		data := `{"b":1, "a":{"z":[1,2],"y":null,"x":"é"}}`
		response, err := NewResponse([]byte(`{"data":` + data + `}`))
		require.NoError(t, err)
		assert.Equal(t, data, response.RawData())
	})

	t.Run("should return null when data is missing", func(t *testing.T) {
		response, err := NewResponse([]byte(`{"errors":[{"message":"boom"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "null", response.RawData())
		assert.Equal(t, []string{"boom"}, response.Errors())

		_, err = DataFieldAs[getData](response, "getData")
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("should not alias the payload", func(t *testing.T) {
		payload := []byte(`{"data":{"a":1}}`)
		response, err := NewResponse(payload)
		require.NoError(t, err)
		copy(payload, `{"data":{"b":2}}`)
		assert.Equal(t, `{"a":1}`, response.RawData())
	})
}

func TestResponse_DataFieldPath(t *testing.T) {
	response, err := NewResponse([]byte(`{"data":{"getData":{"entries":[{"id":"1"},{"id":"2"}]}}}`))
	require.NoError(t, err)

	value, err := response.DataFieldPath("getData.entries.1.id")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"2"`), value)

	_, err = response.DataFieldPath("getData.entries.5.id")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestNewResponse(t *testing.T) {
	t.Run("should reject string data", func(t *testing.T) {
		_, err := NewResponse([]byte(`{"data":"text"}`))
		assert.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("should have no errors when none were sent", func(t *testing.T) {
		response, err := NewResponse([]byte(`{"data":{},"errors":null}`))
		require.NoError(t, err)
		assert.Nil(t, response.Errors())
	})
}
