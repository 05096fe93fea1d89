package profile

import (
	"encoding/json"
	"fmt"

	"relayforge/model"
)

// Sing-box document types. Field order is fixed so the marshalled
// profile is byte-identical for identical inputs.

type Document struct {
	Log       LogConfig   `json:"log"`
	DNS       DNSConfig   `json:"dns"`
	Inbounds  []Inbound   `json:"inbounds"`
	Outbounds []*Outbound `json:"outbounds"`
	Route     RouteConfig `json:"route"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type DNSConfig struct {
	Servers  []DNSServer `json:"servers"`
	Rules    []DNSRule   `json:"rules"`
	Strategy string      `json:"strategy"`
}

type DNSServer struct {
	Tag     string `json:"tag"`
	Address string `json:"address"`
	Detour  string `json:"detour,omitempty"`
}

type DNSRule struct {
	Outbound     string   `json:"outbound,omitempty"`
	ClashMode    string   `json:"clash_mode,omitempty"`
	Geosite      string   `json:"geosite,omitempty"`
	DomainSuffix []string `json:"domain_suffix,omitempty"`
	Server       string   `json:"server"`
}

type Inbound struct {
	Type          string `json:"type"`
	InterfaceName string `json:"interface_name,omitempty"`
	AutoRoute     bool   `json:"auto_route,omitempty"`
	StrictRoute   bool   `json:"strict_route,omitempty"`
}

type Outbound struct {
	Type           string     `json:"type"`
	Tag            string     `json:"tag"`
	Server         string     `json:"server,omitempty"`
	ServerPort     int        `json:"server_port,omitempty"`
	UUID           string     `json:"uuid,omitempty"`
	Flow           string     `json:"flow,omitempty"`
	TLS            *TLSConfig `json:"tls,omitempty"`
	PacketEncoding string     `json:"packet_encoding,omitempty"`
	Outbounds      []string   `json:"outbounds,omitempty"`
	URL            string     `json:"url,omitempty"`
	Interval       string     `json:"interval,omitempty"`
	Tolerance      int        `json:"tolerance,omitempty"`
	Default        string     `json:"default,omitempty"`
}

type TLSConfig struct {
	Enabled    bool          `json:"enabled"`
	ServerName string        `json:"server_name"`
	UTLS       UTLSConfig    `json:"utls"`
	Reality    RealityConfig `json:"reality"`
}

type UTLSConfig struct {
	Enabled     bool   `json:"enabled"`
	Fingerprint string `json:"fingerprint"`
}

type RealityConfig struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key"`
	ShortID   string `json:"short_id"`
}

type RouteConfig struct {
	Rules               []RouteRule `json:"rules"`
	Final               string      `json:"final"`
	AutoDetectInterface bool        `json:"auto_detect_interface"`
}

type RouteRule struct {
	Geosite      string   `json:"geosite,omitempty"`
	Geoip        string   `json:"geoip,omitempty"`
	DomainSuffix []string `json:"domain_suffix,omitempty"`
	ClashMode    string   `json:"clash_mode,omitempty"`
	Outbound     string   `json:"outbound"`
}

const autoSelectTag = "⚡️ Auto Select (Best Ping)"

// localSuffixes are the local-market domains always resolved and
// routed directly, including bank and government hosts that block
// foreign exit IPs.
var localSuffixes = []string{".ru", ".su", ".rf", ".moscow"}

var localRouteSuffixes = []string{".ru", ".su", ".rf", "gosuslugi.ru", "sberbank.ru", "tbank.ru"}

// NodeTag is the human-readable outbound tag for one relay.
func NodeTag(n model.Node) string {
	return fmt.Sprintf("🚀 %s %s", n.CountryCode, n.Name)
}

// Singbox synthesizes the full smart-client profile for the supplied
// fleet. Pure and deterministic: identical inputs yield byte-identical
// output, node order follows the input slice.
func Singbox(nodes []model.Node, userUUID string, r Reality) ([]byte, error) {
	doc := Fleet(nodes, userUUID, r)
	return json.MarshalIndent(doc, "", "  ")
}

// Fleet builds the profile document without marshalling it.
func Fleet(nodes []model.Node, userUUID string, r Reality) *Document {
	nodeTags := make([]string, 0, len(nodes))
	relayOutbounds := make([]*Outbound, 0, len(nodes))

	for _, n := range nodes {
		tag := NodeTag(n)
		nodeTags = append(nodeTags, tag)

		port := n.Port
		if port == 0 {
			port = defaultPort
		}
		sni := n.SNIDomain
		if sni == "" {
			sni = defaultSNI
		}

		relayOutbounds = append(relayOutbounds, &Outbound{
			Type:       "vless",
			Tag:        tag,
			Server:     n.Domain,
			ServerPort: port,
			UUID:       userUUID,
			Flow:       flowControl,
			TLS: &TLSConfig{
				Enabled:    true,
				ServerName: sni,
				UTLS:       UTLSConfig{Enabled: true, Fingerprint: fingerprint},
				Reality:    RealityConfig{Enabled: true, PublicKey: r.PublicKey, ShortID: r.ShortID},
			},
			PacketEncoding: "xudp",
		})
	}

	selector := &Outbound{
		Type:      "selector",
		Tag:       "proxy",
		Outbounds: append(append([]string{autoSelectTag}, nodeTags...), "direct"),
		Default:   autoSelectTag,
	}
	urlTest := &Outbound{
		Type:      "urltest",
		Tag:       autoSelectTag,
		Outbounds: nodeTags,
		URL:       "https://www.gstatic.com/generate_204",
		Interval:  "3m",
		Tolerance: 50,
	}

	outbounds := []*Outbound{selector, urlTest}
	outbounds = append(outbounds, relayOutbounds...)
	outbounds = append(outbounds,
		&Outbound{Type: "direct", Tag: "direct"},
		&Outbound{Type: "block", Tag: "block"},
	)

	return &Document{
		Log: LogConfig{Level: "warn"},
		DNS: DNSConfig{
			Servers: []DNSServer{
				{Tag: "dns-remote", Address: "https://1.1.1.1/dns-query", Detour: "proxy"},
				{Tag: "dns-local", Address: "https://77.88.8.8/dns-query", Detour: "direct"},
				{Tag: "dns-block", Address: "rcode://success"},
			},
			Rules: []DNSRule{
				{Outbound: "any", Server: "dns-local"},
				{ClashMode: "Direct", Server: "dns-local"},
				{Geosite: "ru", Server: "dns-local"},
				{DomainSuffix: localSuffixes, Server: "dns-local"},
			},
			// IPv4-only resolution for stability.
			Strategy: "ipv4_only",
		},
		Inbounds: []Inbound{
			{Type: "tun", InterfaceName: "tun0", AutoRoute: true, StrictRoute: true},
		},
		Outbounds: outbounds,
		Route: RouteConfig{
			// The block rule comes first: ad domains must never fall
			// through to a direct or proxy rule.
			Rules: []RouteRule{
				{Geosite: "category-ads-all", Outbound: "block"},
				{Geosite: "ru", Outbound: "direct"},
				{Geoip: "ru", Outbound: "direct"},
				{DomainSuffix: localRouteSuffixes, Outbound: "direct"},
				{ClashMode: "Direct", Outbound: "direct"},
				{ClashMode: "Global", Outbound: "proxy"},
			},
			Final:               "proxy",
			AutoDetectInterface: true,
		},
	}
}
