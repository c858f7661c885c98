package config

import "testing"

func TestICEServers(t *testing.T) {
	cfg := &Config{StunURLs: []string{
		"stun:stun.l.google.com:19302",
		"  ",
		"stun:stun1.l.google.com:19302",
	}}

	servers, err := cfg.ICEServers()
	if err != nil {
		t.Fatalf("ICEServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2 (blank entry skipped)", len(servers))
	}
	if got := servers[0].URLs[0]; got != "stun:stun.l.google.com:19302" {
		t.Fatalf("servers[0]=%q", got)
	}
}

func TestICEServers_EmptyIsAnError(t *testing.T) {
	cfg := &Config{StunURLs: []string{"", "   "}}
	if _, err := cfg.ICEServers(); err == nil {
		t.Fatal("ICEServers succeeded with no usable urls")
	}
}
