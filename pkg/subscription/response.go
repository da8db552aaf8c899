package subscription

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/tidwall/gjson"
)

var nullDocument = []byte("null")

// Response holds the data document of one 'data' message.
type Response struct {
	data   []byte
	errors []string
}

// NewResponse creates a Response from the payload of a 'data' message.
func NewResponse(payload []byte) (*Response, error) {
	data, dataType, _, err := jsonparser.Get(payload, "data")
	switch {
	case err == jsonparser.KeyPathNotFoundError:
		data = nullDocument
	case err != nil:
		return nil, fmt.Errorf("%w: data payload: %s", ErrDeserialization, err.Error())
	case dataType == jsonparser.String:
		return nil, fmt.Errorf("%w: data payload is a string", ErrDeserialization)
	}

	response := &Response{
		data: append([]byte(nil), data...),
	}

	errorsValue, errorsType, _, err := jsonparser.Get(payload, "errors")
	if err == nil && errorsType != jsonparser.Null {
		response.errors = errorMessagesFromPayload(errorsValue)
	}

	return response, nil
}

// RawData returns the data document exactly as the server sent it.
func (r *Response) RawData() string {
	return string(r.data)
}

// Errors returns the messages of GraphQL errors sent alongside the data, if any.
func (r *Response) Errors() []string {
	return r.errors
}

// DataField returns the raw JSON value of a top level field of the data document.
func (r *Response) DataField(fieldName string) (json.RawMessage, error) {
	return r.lookup(escapePathComponent(fieldName))
}

// DataFieldPath returns the raw JSON value at a gjson path inside the data document,
// e.g. "getData.entries.0.id".
func (r *Response) DataFieldPath(path string) (json.RawMessage, error) {
	return r.lookup(path)
}

func (r *Response) lookup(path string) (json.RawMessage, error) {
	result := gjson.GetBytes(r.data, path)
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, path)
	}
	return json.RawMessage(result.Raw), nil
}

// DataFieldAs deserializes a top level field of the data document into T.
// It returns nil without error when the field is present but null.
func DataFieldAs[T any](r *Response, fieldName string) (*T, error) {
	raw, err := r.DataField(fieldName)
	if err != nil {
		return nil, err
	}
	if gjson.ParseBytes(raw).Type == gjson.Null {
		return nil, nil
	}

	value := new(T)
	if err := json.Unmarshal(raw, value); err != nil {
		return nil, fmt.Errorf("%w: field %s: %s", ErrDeserialization, fieldName, err.Error())
	}
	return value, nil
}

// escapePathComponent escapes gjson path syntax so fieldName matches a single key.
func escapePathComponent(fieldName string) string {
	var sb strings.Builder
	for _, r := range fieldName {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
