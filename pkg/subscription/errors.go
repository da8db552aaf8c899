package subscription

import (
	"errors"
	"strings"

	"github.com/buger/jsonparser"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidURI      = errors.New("invalid uri")
	ErrDisposed        = errors.New("subscription client is disposed")
	// ErrInvalidState is returned when configuration is changed after Connect has started.
	ErrInvalidState    = errors.New("invalid state")
	ErrFieldNotFound   = errors.New("field not found")
	ErrDeserialization = errors.New("could not deserialize field")
)

const unknownErrorMessage = "Unknown error"

// ErrorKind classifies failures that happen while the protocol loop is running.
type ErrorKind int

const (
	ErrorKindConnection ErrorKind = iota
	ErrorKindSubscription
	ErrorKindUnhandledResponseType
	ErrorKindGqlError
	ErrorKindStop
	ErrorKindDisconnect
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnection:
		return "Connection"
	case ErrorKindSubscription:
		return "Subscription"
	case ErrorKindUnhandledResponseType:
		return "UnhandledResponseType"
	case ErrorKindGqlError:
		return "GqlError"
	case ErrorKindStop:
		return "Stop"
	case ErrorKindDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Error is delivered to the error handlers of a Client.
// Messages holds the human-readable diagnostics in the order the server sent them.
type Error struct {
	Kind     ErrorKind
	Messages []string
	// Err is the underlying cause, if any.
	Err error
}

func newError(kind ErrorKind, cause error, messages ...string) *Error {
	if messages == nil {
		messages = []string{}
	}
	return &Error{
		Kind:     kind,
		Messages: messages,
		Err:      cause,
	}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(e.Kind.String()))
	sb.WriteString(" error")
	if len(e.Messages) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		sb.WriteString(" (")
		sb.WriteString(e.Err.Error())
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorMessagesFromPayload extracts the messages of an 'error' frame payload.
// The payload is either a list of GraphQL error objects or a single scalar.
func errorMessagesFromPayload(payload []byte) []string {
	value, dataType, _, err := jsonparser.Get(payload)
	if err != nil || dataType == jsonparser.NotExist || dataType == jsonparser.Null {
		return []string{unknownErrorMessage}
	}

	switch dataType {
	case jsonparser.Array:
		messages := make([]string, 0)
		_, err = jsonparser.ArrayEach(value, func(item []byte, itemType jsonparser.ValueType, _ int, _ error) {
			messages = append(messages, messageOf(item, itemType))
		})
		if err != nil {
			return []string{unknownErrorMessage}
		}
		return messages
	case jsonparser.Object:
		return []string{messageOf(value, dataType)}
	default:
		return []string{scalarString(value, dataType)}
	}
}

// connectionErrorMessage extracts the message of a 'connection_error' frame payload.
func connectionErrorMessage(payload []byte) string {
	value, dataType, _, err := jsonparser.Get(payload)
	if err != nil {
		return unknownErrorMessage
	}
	switch dataType {
	case jsonparser.Object:
		return messageOf(value, dataType)
	case jsonparser.String, jsonparser.Number, jsonparser.Boolean:
		return scalarString(value, dataType)
	default:
		return unknownErrorMessage
	}
}

func messageOf(value []byte, dataType jsonparser.ValueType) string {
	if dataType != jsonparser.Object {
		return scalarString(value, dataType)
	}
	message, messageType, _, err := jsonparser.Get(value, "message")
	if err != nil || messageType == jsonparser.Null {
		return unknownErrorMessage
	}
	return scalarString(message, messageType)
}

func scalarString(value []byte, dataType jsonparser.ValueType) string {
	if dataType == jsonparser.String {
		unescaped, err := jsonparser.ParseString(value)
		if err == nil {
			return unescaped
		}
	}
	if len(value) == 0 {
		return unknownErrorMessage
	}
	return string(value)
}
