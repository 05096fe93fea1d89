package profile

import (
	"bytes"
	"encoding/json"
	"testing"

	"relayforge/model"
)

func fleetNodes() []model.Node {
	return []model.Node{
		{Name: "US-SAN-01", CountryCode: "US", Domain: "us-01.example.com", Port: 443, SNIDomain: "www.google.com"},
		{Name: "DE-BER-01", CountryCode: "DE", Domain: "de-01.example.com"},
	}
}

func TestSingboxDeterministic(t *testing.T) {
	a, err := Singbox(fleetNodes(), "uuid-1", testReality)
	if err != nil {
		t.Fatalf("Singbox: %v", err)
	}
	b, err := Singbox(fleetNodes(), "uuid-1", testReality)
	if err != nil {
		t.Fatalf("Singbox: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("repeated synthesis not byte-identical")
	}

	// And it must be valid JSON with the expected top-level keys.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(a, &raw); err != nil {
		t.Fatalf("profile is not valid JSON: %v", err)
	}
	for _, key := range []string{"log", "dns", "inbounds", "outbounds", "route"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
}

func TestFleetOutbounds(t *testing.T) {
	doc := Fleet(fleetNodes(), "uuid-1", testReality)

	// selector, urltest, two relays, direct, block
	if len(doc.Outbounds) != 6 {
		t.Fatalf("outbounds = %d, want 6", len(doc.Outbounds))
	}

	sel := doc.Outbounds[0]
	if sel.Type != "selector" || sel.Tag != "proxy" {
		t.Errorf("first outbound = %s/%s, want selector/proxy", sel.Type, sel.Tag)
	}
	if sel.Default != autoSelectTag {
		t.Errorf("selector default = %q", sel.Default)
	}
	// auto + both nodes + direct
	if len(sel.Outbounds) != 4 {
		t.Errorf("selector choices = %v", sel.Outbounds)
	}

	ut := doc.Outbounds[1]
	if ut.Type != "urltest" || ut.URL != "https://www.gstatic.com/generate_204" {
		t.Errorf("urltest = %+v", ut)
	}
	if ut.Interval != "3m" || ut.Tolerance != 50 {
		t.Errorf("urltest probe config = %s/%d", ut.Interval, ut.Tolerance)
	}

	relay := doc.Outbounds[2]
	if relay.Type != "vless" || relay.Tag != "🚀 US US-SAN-01" {
		t.Errorf("relay = %s/%s", relay.Type, relay.Tag)
	}
	if relay.UUID != "uuid-1" || relay.Flow != "xtls-rprx-vision" {
		t.Errorf("relay identity = %s/%s", relay.UUID, relay.Flow)
	}
	if relay.TLS == nil || !relay.TLS.Reality.Enabled || relay.TLS.Reality.PublicKey != "pbk-test-key" {
		t.Errorf("relay tls = %+v", relay.TLS)
	}

	// Second node omitted port and sni: defaults apply.
	relay2 := doc.Outbounds[3]
	if relay2.ServerPort != 443 {
		t.Errorf("default port = %d", relay2.ServerPort)
	}
	if relay2.TLS.ServerName != "www.google.com" {
		t.Errorf("default sni = %q", relay2.TLS.ServerName)
	}

	if doc.Outbounds[4].Type != "direct" || doc.Outbounds[5].Type != "block" {
		t.Error("terminal outbounds missing or out of order")
	}
}

func TestRouteRuleOrder(t *testing.T) {
	doc := Fleet(fleetNodes(), "uuid-1", testReality)

	rules := doc.Route.Rules
	if len(rules) == 0 {
		t.Fatal("no route rules")
	}

	// The ad-block rule must be evaluated before every direct/proxy
	// rule, so an ad domain that also matches a local suffix is still
	// blocked.
	if rules[0].Geosite != "category-ads-all" || rules[0].Outbound != "block" {
		t.Fatalf("first rule = %+v, want the ad block rule", rules[0])
	}
	for _, r := range rules[1:] {
		if r.Outbound == "block" {
			t.Errorf("unexpected second block rule: %+v", r)
		}
	}

	if doc.Route.Final != "proxy" {
		t.Errorf("final = %q, want proxy", doc.Route.Final)
	}
}

func TestDNSPolicy(t *testing.T) {
	doc := Fleet(fleetNodes(), "uuid-1", testReality)

	if doc.DNS.Strategy != "ipv4_only" {
		t.Errorf("strategy = %q", doc.DNS.Strategy)
	}
	if len(doc.DNS.Servers) != 3 {
		t.Fatalf("dns servers = %d, want 3", len(doc.DNS.Servers))
	}
	if doc.DNS.Servers[0].Detour != "proxy" {
		t.Error("remote resolver must detour through the proxy")
	}
	if doc.DNS.Servers[1].Detour != "direct" {
		t.Error("local resolver must go direct")
	}
}

func TestFleetEmpty(t *testing.T) {
	out, err := Singbox(nil, "uuid-1", testReality)
	if err != nil {
		t.Fatalf("Singbox with empty fleet: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
}

func TestInboundCapture(t *testing.T) {
	doc := Fleet(fleetNodes(), "uuid-1", testReality)
	if len(doc.Inbounds) != 1 {
		t.Fatalf("inbounds = %d", len(doc.Inbounds))
	}
	in := doc.Inbounds[0]
	if in.Type != "tun" || !in.AutoRoute || !in.StrictRoute {
		t.Errorf("capture inbound = %+v", in)
	}
}
