package config

import (
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

var errNoICEServers = errors.New("no usable stun urls configured")

// ICEServers converts the configured STUN URL list into the shape
// clients feed straight into RTCPeerConnection. Blank entries are
// skipped; an all-blank list is a config mistake worth surfacing.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(c.StunURLs))
	for _, raw := range c.StunURLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return nil, errNoICEServers
	}
	return out, nil
}
