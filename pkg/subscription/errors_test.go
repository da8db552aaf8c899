package subscription

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessagesFromPayload(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		expected []string
	}{
		{name: "list of errors", payload: `[{"message":"m1"},{"message":"m2"}]`, expected: []string{"m1", "m2"}},
		{name: "error without message", payload: `[{"message":"m1"},{"path":["a"]}]`, expected: []string{"m1", "Unknown error"}},
		{name: "empty message", payload: `[{"message":""}]`, expected: []string{""}},
		{name: "null message", payload: `[{"message":null}]`, expected: []string{"Unknown error"}},
		{name: "non string message", payload: `[{"message":500}]`, expected: []string{"500"}},
		{name: "empty list", payload: `[]`, expected: []string{}},
		{name: "single error object", payload: `{"message":"m1","locations":[]}`, expected: []string{"m1"}},
		{name: "string scalar", payload: `"boom"`, expected: []string{"boom"}},
		{name: "escaped string scalar", payload: `"line \"quoted\""`, expected: []string{`line "quoted"`}},
		{name: "number scalar", payload: `42`, expected: []string{"42"}},
		{name: "null", payload: `null`, expected: []string{"Unknown error"}},
		{name: "absent", payload: ``, expected: []string{"Unknown error"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			messages := errorMessagesFromPayload([]byte(c.payload))
			if diff := cmp.Diff(c.expected, messages); diff != "" {
				t.Errorf("unexpected messages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConnectionErrorMessage(t *testing.T) {
	assert.Equal(t, "bad token", connectionErrorMessage([]byte(`{"message":"bad token"}`)))
	assert.Equal(t, "failed to accept the websocket connection", connectionErrorMessage([]byte(`"failed to accept the websocket connection"`)))
	assert.Equal(t, "Unknown error", connectionErrorMessage([]byte(`{}`)))
	assert.Equal(t, "", connectionErrorMessage([]byte(`{"message":""}`)))
	assert.Equal(t, "Unknown error", connectionErrorMessage(nil))
}

func TestError(t *testing.T) {
	t.Run("should describe kind and messages", func(t *testing.T) {
		err := newError(ErrorKindGqlError, nil, "m1", "m2")
		assert.Equal(t, "gqlerror error: m1; m2", err.Error())
	})

	t.Run("should unwrap the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		var err error = newError(ErrorKindConnection, cause, "connection refused")
		assert.ErrorIs(t, err, cause)

		var protocolErr *Error
		assert.True(t, errors.As(err, &protocolErr))
		assert.Equal(t, ErrorKindConnection, protocolErr.Kind)
	})

	t.Run("should always carry a message list", func(t *testing.T) {
		err := newError(ErrorKindDisconnect, nil)
		assert.NotNil(t, err.Messages)
		assert.Empty(t, err.Messages)
	})
}
