package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveEndpoint(t *testing.T) {
	const fallback = "ws://localhost:8080/ws"

	tests := []struct {
		name   string
		origin string
		path   string
		want   string
	}{
		{"no origin", "", "/ws", fallback},
		{"http origin", "http://dash.example.com", "/ws", "ws://dash.example.com/ws"},
		{"https origin", "https://dash.example.com", "/ws", "wss://dash.example.com/ws"},
		{"keeps port", "http://127.0.0.1:3000", "/stream", "ws://127.0.0.1:3000/stream"},
		{"default path", "https://dash.example.com", "", "wss://dash.example.com/ws"},
		{"relative path", "https://dash.example.com", "live", "wss://dash.example.com/live"},
		{"drops query and page path", "https://dash.example.com/hosts?tab=1#x", "/ws", "wss://dash.example.com/ws"},
		{"ws origin", "ws://edge.local", "/ws", "ws://edge.local/ws"},
		{"unknown scheme", "file:///tmp/index.html", "/ws", fallback},
		{"no host", "dash.example.com", "/ws", fallback},
		{"invalid", "http://[::1", "/ws", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveEndpoint(tt.origin, tt.path, fallback))
		})
	}
}
