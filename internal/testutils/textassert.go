//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares rendered CLI output line by line.
type TextAsserter struct {
	t       testing.TB
	options TextAssertOptions
}

func NewTextAsserter(t testing.TB) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// WithEnableColors sets whether to enable colored diff output
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) {
		o.EnableColors = enable
	}
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) {
	ta.t.Helper()
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	ta.t.Errorf("Text assertion failed - unified diff:\n%s", ta.colorize(unified))
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.options.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
