package websocket

import "net/url"

// parseTarget validates and normalizes a WebSocket URL: scheme must be ws
// or wss, host is required, and the port defaults to 80/443 when not
// given explicitly (net/url's own resolution).
func parseTarget(raw string) (*url.URL, bool, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false, &URLError{URL: raw, Reason: err.Error()}
	}

	var tls bool
	switch u.Scheme {
	case "ws":
		tls = false
	case "wss":
		tls = true
	default:
		return nil, false, &URLError{URL: raw, Reason: "scheme must be ws or wss"}
	}

	if u.Hostname() == "" {
		return nil, false, &URLError{URL: raw, Reason: "host is required"}
	}

	if u.Port() == "" {
		port := "80"
		if tls {
			port = "443"
		}
		u.Host = u.Hostname() + ":" + port
	}

	return u, tls, nil
}
