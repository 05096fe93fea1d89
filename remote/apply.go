package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// Vars are the values the setup script is rendered with. They are
// staged as vars.yml next to the script template in the per-run
// workspace.
type Vars struct {
	PanelCert   string `yaml:"panel_cert"`
	RealitySNI  string `yaml:"reality_sni"`
	RealityPort int    `yaml:"reality_port"`
	MainPanelIP string `yaml:"main_panel_ip"`
	NodeDomain  string `yaml:"node_domain"`
}

// Target is the host the configuration is applied to.
type Target struct {
	Host     string
	User     string
	Password string
}

// Result is the normalized outcome of one apply. Status is
// StatusSuccessful on a clean run; anything else carries the failure
// in Detail.
type Result struct {
	Status string
	Detail string
}

const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"

	// TemplateName is the staged script template file name.
	TemplateName = "setup_node.sh.tmpl"
	// VarsName is the staged variables file name.
	VarsName = "vars.yml"
)

// Applier installs relay software on a target host over SSH: it
// renders the staged setup script and streams it to a shell on the
// host. The call blocks for as long as the setup runs; callers are
// expected to await it off their request path.
type Applier struct {
	DialTimeout  time.Duration
	DialRetries  int
	RetryBackoff time.Duration
}

func NewApplier() *Applier {
	return &Applier{
		DialTimeout:  10 * time.Second,
		DialRetries:  5,
		RetryBackoff: 5 * time.Second,
	}
}

// Apply reads the staged workspace and runs the rendered script on the
// target as a single remote shell invocation.
func (a *Applier) Apply(ctx context.Context, projectDir string, t Target) (*Result, error) {
	script, err := renderScript(projectDir)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // fresh hosts have no known key yet
		Timeout:         a.DialTimeout,
	}

	client, err := a.dial(ctx, t.Host, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(script)
	out, err := session.CombinedOutput("bash -s")
	detail := strings.TrimSpace(string(out))
	if err != nil {
		return &Result{Status: StatusFailed, Detail: fmt.Sprintf("%v: %s", err, detail)}, nil
	}
	return &Result{Status: StatusSuccessful, Detail: detail}, nil
}

func (a *Applier) dial(ctx context.Context, host string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var lastErr error
	for i := 0; i < a.DialRetries; i++ {
		client, err := ssh.Dial("tcp", host+":22", cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.RetryBackoff):
		}
	}
	return nil, fmt.Errorf("ssh dial %s: %w", host, lastErr)
}

// renderScript loads the template and vars from the workspace and
// renders the setup script.
func renderScript(projectDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(projectDir, VarsName))
	if err != nil {
		return "", fmt.Errorf("read vars: %w", err)
	}
	var vars Vars
	if err := yaml.Unmarshal(raw, &vars); err != nil {
		return "", fmt.Errorf("parse vars: %w", err)
	}

	tmpl, err := template.ParseFiles(filepath.Join(projectDir, TemplateName))
	if err != nil {
		return "", fmt.Errorf("parse setup template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render setup script: %w", err)
	}
	return buf.String(), nil
}
