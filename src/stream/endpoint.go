package stream

import (
	"net/url"
	"strings"
)

// ResolveEndpoint derives the stream URL from the hosting origin when one
// is known (http → ws, https → wss, same host), and otherwise returns
// fallback.
func ResolveEndpoint(origin, path, fallback string) string {
	if origin == "" {
		return fallback
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fallback
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return fallback
	}

	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
