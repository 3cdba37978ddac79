package websocket

import "testing"

func TestParseTarget(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantHost string
		wantTLS  bool
		wantErr  bool
	}{
		{"plain with port", "ws://example.com:8080/chat", "example.com:8080", false, false},
		{"plain default port", "ws://example.com/chat", "example.com:80", false, false},
		{"tls default port", "wss://example.com/chat", "example.com:443", true, false},
		{"tls explicit port", "wss://example.com:9443/chat", "example.com:9443", true, false},
		{"bad scheme", "http://example.com/chat", "", false, true},
		{"no host", "ws:///chat", "", false, true},
		{"unparseable", "ws://%zz", "", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, tls, err := parseTarget(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				if _, ok := err.(*URLError); !ok {
					t.Fatalf("want *URLError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTarget(%q): %v", tc.raw, err)
			}
			if u.Host != tc.wantHost {
				t.Errorf("want host %q, got %q", tc.wantHost, u.Host)
			}
			if tls != tc.wantTLS {
				t.Errorf("want tls=%v, got %v", tc.wantTLS, tls)
			}
		})
	}
}
