package rabbitmq

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsWithDefaults(t *testing.T) {
	testCases := []struct {
		name string
		in   Options
		want Options
	}{
		{
			name: "zero value falls back to defaults",
			in:   Options{},
			want: Options{Exchange: NotificationsExchange, PublishTimeout: 2 * time.Second, ConnectionName: "triviarush-server"},
		},
		{
			name: "negative prefetch means unlimited",
			in:   Options{Exchange: "custom", Prefetch: -5, PublishTimeout: time.Second, ConnectionName: "node-a"},
			want: Options{Exchange: "custom", PublishTimeout: time.Second, ConnectionName: "node-a"},
		},
		{
			name: "explicit values are kept",
			in:   Options{Exchange: "custom", Prefetch: 10, PublishTimeout: time.Second, ConnectionName: "node-a"},
			want: Options{Exchange: "custom", Prefetch: 10, PublishTimeout: time.Second, ConnectionName: "node-a"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.withDefaults())
		})
	}
}

func TestDialRejectsMalformedURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Dial("http://localhost:5672/", DefaultOptions(), logger)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "failed to dial broker")
}
