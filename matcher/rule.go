// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package matcher implements declarative request predicates.
//
// A Rule is a tagged variant selected by Kind. A list of rules matches a
// request when every rule in it matches; an empty list matches everything.
//
//	[
//	  {"kind": "method", "value": "POST"},
//	  {"kind": "glob", "value": "/api/**"},
//	  {"kind": "jsonpath", "path": "$.user.id", "equals": 42}
//	]
package matcher

// Kind selects the behaviour of a Rule
type Kind string

// Rule kinds
const (
	KindAny            Kind = "any"
	KindMethod         Kind = "method"
	KindPath           Kind = "path"
	KindGlob           Kind = "glob"
	KindRegex          Kind = "regex"
	KindQuery          Kind = "query"
	KindHeader         Kind = "header"
	KindHeaderContains Kind = "header_contains"
	KindBody           Kind = "body"
	KindBodyContains   Kind = "body_contains"
	KindBodyRegex      Kind = "body_regex"
	KindJSONPath       Kind = "jsonpath"
	KindSchema         Kind = "schema"
	KindExpr           Kind = "expr"
	KindAnd            Kind = "and"
	KindOr             Kind = "or"
	KindNot            Kind = "not"
)

// Rule is one declarative request predicate
type Rule struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Name is the header or query parameter name
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Value is the literal, pattern or expression the kind compares with
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	// Path is the JSONPath of a jsonpath rule
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Equals is compared with the values selected by Path. Nil only checks
	// that Path selects something.
	Equals interface{} `json:"equals,omitempty" yaml:"equals,omitempty"`
	// Schema is the JSON Schema document of a schema rule
	Schema interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
	// Rules are the operands of and, or and not
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Any matches every request
func Any() Rule { return Rule{Kind: KindAny} }

// Method matches the request method exactly
func Method(method string) Rule { return Rule{Kind: KindMethod, Value: method} }

// Path matches the request path exactly
func Path(path string) Rule { return Rule{Kind: KindPath, Value: path} }

// Glob matches the request path against a doublestar pattern
func Glob(pattern string) Rule { return Rule{Kind: KindGlob, Value: pattern} }

// PathRegex matches the request path against a regular expression
func PathRegex(expr string) Rule { return Rule{Kind: KindRegex, Value: expr} }

// Body matches the request body exactly
func Body(body string) Rule { return Rule{Kind: KindBody, Value: body} }

// Expr evaluates a boolean expression over the request
func Expr(expr string) Rule { return Rule{Kind: KindExpr, Value: expr} }

// Schema validates the request body against a JSON Schema document
func Schema(schema interface{}) Rule {
	return Rule{Kind: KindSchema, Schema: schema}
}

// Query matches a query parameter value, or its presence when value is empty
func Query(name, value string) Rule {
	return Rule{Kind: KindQuery, Name: name, Value: value}
}

// Header matches a header value exactly
func Header(name, value string) Rule {
	return Rule{Kind: KindHeader, Name: name, Value: value}
}

// HeaderContains matches when any value of the header contains value
func HeaderContains(name, value string) Rule {
	return Rule{Kind: KindHeaderContains, Name: name, Value: value}
}

// BodyContains matches when the body contains s
func BodyContains(s string) Rule { return Rule{Kind: KindBodyContains, Value: s} }

// BodyRegex matches the body against a regular expression
func BodyRegex(expr string) Rule { return Rule{Kind: KindBodyRegex, Value: expr} }

// JSONPathExists matches when path selects at least one value of the body
func JSONPathExists(path string) Rule {
	return Rule{Kind: KindJSONPath, Path: path}
}

// JSONPath matches when any value selected by path equals equals
func JSONPath(path string, equals interface{}) Rule {
	return Rule{Kind: KindJSONPath, Path: path, Equals: equals}
}

// And matches when every rule matches
func And(rules ...Rule) Rule { return Rule{Kind: KindAnd, Rules: rules} }

// Or matches when at least one rule matches
func Or(rules ...Rule) Rule { return Rule{Kind: KindOr, Rules: rules} }

// Not inverts rule
func Not(rule Rule) Rule { return Rule{Kind: KindNot, Rules: []Rule{rule}} }
