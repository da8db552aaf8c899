package subscription

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var errNoSubscriptionOperation = errors.New("query does not contain a subscription operation")

// validateSubscriptionQuery checks that query is a syntactically valid GraphQL document
// containing at least one subscription operation. It does not validate against a schema.
func validateSubscriptionQuery(query string) error {
	document, parseErr := parser.ParseQuery(&ast.Source{Name: "subscription", Input: query})
	if parseErr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, parseErr.Error())
	}

	for _, operation := range document.Operations {
		if operation.Operation == ast.Subscription {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalidArgument, errNoSubscriptionOperation.Error())
}
