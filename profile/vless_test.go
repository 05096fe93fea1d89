package profile

import (
	"net/url"
	"strings"
	"testing"

	"relayforge/model"
)

var testReality = Reality{PublicKey: "pbk-test-key", ShortID: "ab12"}

func TestVlessLink_Defaults(t *testing.T) {
	n := model.Node{Domain: "x.example.com"} // no port, no sni
	link := VlessLink(n, "u1", "Node 1", testReality)

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link does not parse: %v", err)
	}
	if u.Scheme != "vless" {
		t.Errorf("scheme = %q", u.Scheme)
	}
	if u.User.Username() != "u1" {
		t.Errorf("userinfo = %q", u.User.Username())
	}
	if u.Host != "x.example.com:443" {
		t.Errorf("host = %q, want default port 443", u.Host)
	}
	if u.Fragment != "Node 1" {
		t.Errorf("fragment = %q", u.Fragment)
	}
	if !strings.Contains(link, "#Node%201") {
		t.Errorf("label not percent-encoded in %q", link)
	}

	q := u.Query()
	for key, want := range map[string]string{
		"type":     "tcp",
		"security": "reality",
		"pbk":      "pbk-test-key",
		"fp":       "chrome",
		"sni":      "www.google.com",
		"sid":      "ab12",
		"spx":      "/",
		"flow":     "xtls-rprx-vision",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestVlessLink_NodeValues(t *testing.T) {
	n := model.Node{Domain: "de-02.example.com", Port: 8443, SNIDomain: "cdn.example.org"}
	link := VlessLink(n, "u2", "Berlin", testReality)

	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "de-02.example.com:8443" {
		t.Errorf("host = %q", u.Host)
	}
	if got := u.Query().Get("sni"); got != "cdn.example.org" {
		t.Errorf("sni = %q", got)
	}
}

func TestVlessLink_Deterministic(t *testing.T) {
	n := model.Node{Domain: "x.example.com", Port: 443}
	a := VlessLink(n, "u1", "N", testReality)
	b := VlessLink(n, "u1", "N", testReality)
	if a != b {
		t.Error("link not deterministic")
	}
}
