package profile

import (
	"fmt"
	"net/url"
	"strings"

	"relayforge/model"
)

// Reality carries the fleet-wide reality keypair parameters baked into
// every client profile.
type Reality struct {
	PublicKey string
	ShortID   string
}

// Transport constants shared by the single link and the fleet
// document.
const (
	defaultPort = 443
	defaultSNI  = "www.google.com"
	fingerprint = "chrome"
	flowControl = "xtls-rprx-vision"
)

// VlessLink builds a single vless:// connection URI for one node.
// Query parameters are emitted in a fixed order so output is stable.
func VlessLink(n model.Node, uuid, remark string, r Reality) string {
	port := n.Port
	if port == 0 {
		port = defaultPort
	}
	sni := n.SNIDomain
	if sni == "" {
		sni = defaultSNI
	}

	params := [][2]string{
		{"type", "tcp"},
		{"security", "reality"},
		{"pbk", r.PublicKey},
		{"fp", fingerprint},
		{"sni", sni},
		{"sid", r.ShortID},
		{"spx", "/"},
		{"flow", flowControl},
	}

	var q strings.Builder
	for i, kv := range params {
		if i > 0 {
			q.WriteByte('&')
		}
		q.WriteString(kv[0])
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(kv[1]))
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s", uuid, n.Domain, port, q.String(), url.PathEscape(remark))
}
