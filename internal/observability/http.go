package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the device and network origin of a socket handshake.
type ClientMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

// MetaFromRequest reads client metadata set by the gateway. The device id may
// also arrive as a query parameter since browsers cannot set headers on a
// websocket upgrade.
func MetaFromRequest(r *http.Request) ClientMeta {
	device := r.Header.Get("X-Device-Id")
	if device == "" {
		device = r.URL.Query().Get("deviceId")
	}
	return ClientMeta{
		DeviceID:  device,
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        clientIP(r),
	}
}

// clientIP takes the first valid X-Forwarded-For hop, then X-Real-Ip, then the peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
