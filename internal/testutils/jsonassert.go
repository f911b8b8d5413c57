//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

type JSONAsserter struct {
	t       testing.TB
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t testing.TB) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// WithIgnoredFields drops the named keys at any depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) {
		o.IgnoredFields = append(o.IgnoredFields, fields...)
	}
}

// WithStrictKeys reports keys present in actual but not in expected.
func WithStrictKeys() Option {
	return func(o *JSONAssertOptions) {
		o.IgnoreExtraKeys = false
	}
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(v), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	for _, f := range ja.options.IgnoredFields {
		dropKey(expected, f)
		dropKey(actual, f)
	}
	if ja.options.AllowPresencePlaceholder {
		fillPlaceholders(expected, actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	d, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(d)
	return out
}

func fillPlaceholders(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPlaceholders(v, act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				fillPlaceholders(exp[i], act[i])
			}
		}
	}
}

// pruneExtraKeys removes keys in actual that expected does not mention.
func pruneExtraKeys(actual, expected any) {
	switch act := actual.(type) {
	case map[string]any:
		exp, ok := expected.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
				continue
			}
			pruneExtraKeys(act[k], exp[k])
		}
	case []any:
		exp, ok := expected.([]any)
		if !ok {
			return
		}
		for i := range act {
			if i < len(exp) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func dropKey(v any, key string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, key)
		for _, child := range t {
			dropKey(child, key)
		}
	case []any:
		for _, child := range t {
			dropKey(child, key)
		}
	}
}
