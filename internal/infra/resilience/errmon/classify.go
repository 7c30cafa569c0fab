// Package errmon classifies failures, keeps outcome statistics and runs
// protected calls through retry and circuit breaking.
package errmon

import (
	"net/http"

	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
)

// Category is the error taxonomy used for statistics.
type Category string

const (
	CategoryNetwork           Category = "NETWORK"
	CategoryWebsocket         Category = "WEBSOCKET"
	CategoryAPI               Category = "API"
	CategoryAuth              Category = "AUTH"
	CategoryThirdPartyService Category = "THIRD_PARTY_SERVICE"
	CategoryParsing           Category = "PARSING"
	CategoryStorage           Category = "STORAGE"
	CategoryRender            Category = "RENDER"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryNetwork, CategoryWebsocket, CategoryAPI, CategoryAuth,
	CategoryThirdPartyService, CategoryParsing, CategoryStorage, CategoryRender,
}

// Component tags understood by the classifier.
const (
	ComponentWebsocket = "websocket"
	Component7TV       = "7tv"
	ComponentAPI       = "api"
	ComponentStorage   = "storage"
)

// rule maps normalised details to a category. ok is false when the rule
// does not apply.
type rule func(d fault.Details) (c Category, ok bool)

// rules run in order; the first match wins.
var rules = []rule{
	componentRule,
	connectionCodeRule,
	authStatusRule,
	syntaxRule,
}

func componentRule(d fault.Details) (Category, bool) {
	switch d.Component {
	case ComponentWebsocket:
		return CategoryWebsocket, true
	case Component7TV:
		return CategoryThirdPartyService, true
	case ComponentAPI:
		return CategoryAPI, true
	case ComponentStorage:
		return CategoryStorage, true
	}
	return "", false
}

func connectionCodeRule(d fault.Details) (Category, bool) {
	if fault.IsConnectionCode(d.Code) {
		return CategoryNetwork, true
	}
	return "", false
}

func authStatusRule(d fault.Details) (Category, bool) {
	if d.Status == http.StatusUnauthorized || d.Status == http.StatusForbidden {
		return CategoryAuth, true
	}
	return "", false
}

func syntaxRule(d fault.Details) (Category, bool) {
	if d.Name == fault.NameSyntaxError {
		return CategoryParsing, true
	}
	return "", false
}

// Classify maps err to a category. component, when set, overrides any tag
// carried by the error itself.
func Classify(err error, component string) Category {
	d := fault.Inspect(err)
	if component != "" {
		d.Component = component
	}
	return ClassifyDetails(d)
}

// ClassifyDetails runs the rule chain over already normalised details.
func ClassifyDetails(d fault.Details) Category {
	for _, r := range rules {
		if c, ok := r(d); ok {
			return c
		}
	}
	return CategoryNetwork
}
