// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package matcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"httpmock/request"
)

// Predicate reports whether a recorded request satisfies a rule
type Predicate func(r *request.Request) bool

// ErrNotAList is returned by Decode when the payload is not a JSON array
var ErrNotAList = errors.New("matcher: payload is not a list of rules")

// Decode parses a JSON list of rules and checks that every rule compiles
func Decode(data []byte) ([]Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotAList
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var rules []Rule
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}

	if _, err := Compile(rules); err != nil {
		return nil, err
	}

	return rules, nil
}

// Compile turns a list of rules into one predicate requiring all of them
func Compile(rules []Rule) (Predicate, error) {
	predicates := make([]Predicate, 0, len(rules))

	for i, rule := range rules {
		p, err := rule.Compile()
		if err != nil {
			return nil, fmt.Errorf("matcher: rule %d: %w", i, err)
		}
		predicates = append(predicates, p)
	}

	return all(predicates), nil
}

func all(predicates []Predicate) Predicate {
	return func(r *request.Request) bool {
		for _, p := range predicates {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Compile validates the rule and returns its predicate
func (rule Rule) Compile() (Predicate, error) {
	switch rule.Kind {
	case KindAny:
		return func(*request.Request) bool { return true }, nil

	case KindMethod:
		if rule.Value == "" {
			return nil, errors.New("method rule requires a value")
		}
		return func(r *request.Request) bool {
			return strings.EqualFold(r.Method, rule.Value)
		}, nil

	case KindPath:
		return func(r *request.Request) bool { return r.Path == rule.Value }, nil

	case KindGlob:
		if !doublestar.ValidatePattern(rule.Value) {
			return nil, fmt.Errorf("invalid glob pattern %q", rule.Value)
		}
		return func(r *request.Request) bool {
			ok, err := doublestar.Match(rule.Value, r.Path)
			return err == nil && ok
		}, nil

	case KindRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) bool { return re.MatchString(r.Path) }, nil

	case KindQuery:
		if rule.Name == "" {
			return nil, errors.New("query rule requires a name")
		}
		return func(r *request.Request) bool {
			values, exists := r.Query()[rule.Name]
			if !exists {
				return false
			}
			if rule.Value == "" {
				return true
			}
			for _, v := range values {
				if v == rule.Value {
					return true
				}
			}
			return false
		}, nil

	case KindHeader, KindHeaderContains:
		if rule.Name == "" {
			return nil, fmt.Errorf("%s rule requires a name", rule.Kind)
		}
		contains := rule.Kind == KindHeaderContains
		return func(r *request.Request) bool {
			for _, v := range http.Header(r.Header).Values(rule.Name) {
				if (contains && strings.Contains(v, rule.Value)) || (!contains && v == rule.Value) {
					return true
				}
			}
			return false
		}, nil

	case KindBody:
		return func(r *request.Request) bool { return r.Body == rule.Value }, nil

	case KindBodyContains:
		return func(r *request.Request) bool { return strings.Contains(r.Body, rule.Value) }, nil

	case KindBodyRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) bool { return re.MatchString(r.Body) }, nil

	case KindJSONPath:
		return compileJSONPath(rule)

	case KindSchema:
		return compileSchema(rule)

	case KindExpr:
		return compileExpr(rule)

	case KindAnd, KindOr:
		if len(rule.Rules) == 0 {
			return nil, fmt.Errorf("%s rule requires operands", rule.Kind)
		}
		operands, err := compileOperands(rule.Rules)
		if err != nil {
			return nil, err
		}
		if rule.Kind == KindAnd {
			return all(operands), nil
		}
		return func(r *request.Request) bool {
			for _, p := range operands {
				if p(r) {
					return true
				}
			}
			return false
		}, nil

	case KindNot:
		if len(rule.Rules) != 1 {
			return nil, errors.New("not rule requires exactly one operand")
		}
		operands, err := compileOperands(rule.Rules)
		if err != nil {
			return nil, err
		}
		return func(r *request.Request) bool { return !operands[0](r) }, nil
	}

	return nil, fmt.Errorf("unknown rule kind %q", rule.Kind)
}

func compileOperands(rules []Rule) ([]Predicate, error) {
	out := make([]Predicate, len(rules))
	for i, rule := range rules {
		p, err := rule.Compile()
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func compileJSONPath(rule Rule) (Predicate, error) {
	x, err := jp.ParseString(rule.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath %q: %w", rule.Path, err)
	}

	var want []byte
	if rule.Equals != nil {
		if want, err = json.Marshal(normalize(rule.Equals)); err != nil {
			return nil, fmt.Errorf("invalid jsonpath value: %w", err)
		}
	}

	return func(r *request.Request) bool {
		data, err := oj.ParseString(r.Body)
		if err != nil {
			return false
		}

		results := x.Get(data)
		if want == nil {
			return len(results) > 0
		}

		for _, result := range results {
			got, err := json.Marshal(result)
			if err == nil && bytes.Equal(got, want) {
				return true
			}
		}
		return false
	}, nil
}

func compileSchema(rule Rule) (Predicate, error) {
	if rule.Schema == nil {
		return nil, errors.New("schema rule requires a schema")
	}

	doc, err := json.Marshal(normalize(rule.Schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("schema.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return func(r *request.Request) bool {
		var body interface{}
		if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
			return false
		}
		return schema.Validate(body) == nil
	}, nil
}

func exprEnv(r *request.Request) map[string]interface{} {
	headers := make(map[string]string)
	query := make(map[string]string)

	if r != nil {
		for name := range r.Header {
			headers[http.CanonicalHeaderKey(name)] = http.Header(r.Header).Get(name)
		}
		for name, values := range r.Query() {
			if len(values) > 0 {
				query[name] = values[0]
			}
		}
	}

	env := map[string]interface{}{
		"method":  "",
		"path":    "",
		"host":    "",
		"body":    "",
		"headers": headers,
		"query":   query,
	}

	if r != nil {
		env["method"] = r.Method
		env["path"] = r.Path
		env["host"] = r.Host
		env["body"] = r.Body
	}

	return env
}

func compileExpr(rule Rule) (Predicate, error) {
	program, err := expr.Compile(rule.Value, expr.Env(exprEnv(nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", rule.Value, err)
	}

	return func(r *request.Request) bool {
		out, err := expr.Run(program, exprEnv(r))
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}

// normalize converts YAML decoded maps into JSON compatible ones
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}
