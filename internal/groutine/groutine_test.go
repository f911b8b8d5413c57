//go:build test

package groutine_test

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/srg/miflora/internal/groutine"
	"github.com/stretchr/testify/assert"
)

func TestGoLabelsGoroutine(t *testing.T) {
	type labels struct {
		name  string
		label string
	}
	got := make(chan labels, 1)

	groutine.Go(context.Background(), "link-monitor:c4:7c:8d:65:d5:26", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		got <- labels{name: groutine.Name(ctx), label: label}
	})

	res := <-got
	assert.Equal(t, "link-monitor:c4:7c:8d:65:d5:26", res.name)
	assert.Equal(t, "link-monitor:c4:7c:8d:65:d5:26", res.label, "pprof label MUST carry the name")
}

func TestNameOutsideGo(t *testing.T) {
	assert.Empty(t, groutine.Name(context.Background()))
}
