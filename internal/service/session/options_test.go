package session

import (
	"testing"
	"time"
)

func TestWithDefaultsKeepsReadTimeoutAbovePingInterval(t *testing.T) {
	cases := []struct {
		name string
		in   Options
		read time.Duration
	}{
		{"defaults", Options{}, 60 * time.Second},
		{"long ping", Options{PingInterval: 90 * time.Second}, 180 * time.Second},
		{"equal", Options{ReadTimeout: time.Minute, PingInterval: time.Minute}, 2 * time.Minute},
		{"explicit", Options{ReadTimeout: 5 * time.Minute, PingInterval: time.Minute}, 5 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.withDefaults()
			if got.ReadTimeout != tc.read {
				t.Fatalf("read timeout = %v, want %v", got.ReadTimeout, tc.read)
			}
			if got.ReadTimeout <= got.PingInterval {
				t.Fatalf("read timeout %v not above ping interval %v", got.ReadTimeout, got.PingInterval)
			}
		})
	}
}
