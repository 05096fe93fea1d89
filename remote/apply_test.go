package remote

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func stage(t *testing.T, tmpl string, vars Vars) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TemplateName), []byte(tmpl), 0644); err != nil {
		t.Fatal(err)
	}
	raw, err := yaml.Marshal(vars)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, VarsName), raw, 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRenderScript(t *testing.T) {
	tmpl := `#!/bin/bash
echo "{{.PanelCert}}" > /var/lib/relay/ca.pem
SNI={{.RealitySNI}}
PORT={{.RealityPort}}
ufw allow from {{.MainPanelIP}}
DOMAIN={{.NodeDomain}}
`
	dir := stage(t, tmpl, Vars{
		PanelCert:   "CERT-PEM",
		RealitySNI:  "www.google.com",
		RealityPort: 443,
		MainPanelIP: "203.0.113.9",
		NodeDomain:  "us-01.example.com",
	})

	script, err := renderScript(dir)
	if err != nil {
		t.Fatalf("renderScript: %v", err)
	}

	for _, want := range []string{"CERT-PEM", "SNI=www.google.com", "PORT=443", "ufw allow from 203.0.113.9", "DOMAIN=us-01.example.com"} {
		if !strings.Contains(script, want) {
			t.Errorf("rendered script missing %q", want)
		}
	}
}

func TestRenderScript_MissingVars(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, TemplateName), []byte("echo ok"), 0644)

	if _, err := renderScript(dir); err == nil {
		t.Error("expected error when vars.yml is missing")
	}
}

func TestRenderScript_BadTemplate(t *testing.T) {
	dir := stage(t, "{{.Unclosed", Vars{})
	if _, err := renderScript(dir); err == nil {
		t.Error("expected error for bad template syntax")
	}
}
