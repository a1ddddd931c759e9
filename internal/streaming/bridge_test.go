package streaming

import "testing"

// trimUTF8 is the one piece of the Bridge with no Docker/WebSocket
// dependency, so it is the one exercised directly; ServeLogs/
// findRunningContainer/watchDisconnect need a live daemon and a real
// WebSocket round trip and are not covered by an automated test (see
// DESIGN.md).
func TestTrimUTF8(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "no trailing newline", in: "hello", expected: "hello"},
		{name: "trailing newline", in: "hello\n", expected: "hello"},
		{name: "trailing crlf", in: "hello\r\n", expected: "hello"},
		{name: "multiple trailing newlines", in: "hello\n\n\n", expected: "hello"},
		{name: "empty", in: "", expected: ""},
		{name: "only newlines", in: "\n\n", expected: ""},
		{name: "interior newline preserved", in: "hello\nworld\n", expected: "hello\nworld"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimUTF8([]byte(tt.in))
			if got != tt.expected {
				t.Errorf("trimUTF8(%q) = %q, expected %q", tt.in, got, tt.expected)
			}
		})
	}
}
