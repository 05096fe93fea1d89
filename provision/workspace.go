package provision

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"relayforge/remote"
)

// stageWorkspace lays out a fresh per-run project directory under
// runDir and copies the setup script template into it. A missing
// template is an operator error and aborts the run.
func stageWorkspace(runDir, runID, templateSource string) (string, error) {
	runPath := filepath.Join(runDir, runID)
	if err := os.RemoveAll(runPath); err != nil {
		return "", fmt.Errorf("clean workspace: %w", err)
	}

	projectDir := filepath.Join(runPath, "project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if err := copyFile(templateSource, filepath.Join(projectDir, remote.TemplateName)); err != nil {
		return "", fmt.Errorf("setup template not found (%s): %w", templateSource, err)
	}
	return projectDir, nil
}

// writeVars stages the render variables for the setup script. The
// secret material in them lives only inside the per-run workspace.
func writeVars(projectDir string, vars remote.Vars) error {
	data, err := yaml.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal vars: %w", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, remote.VarsName), data, 0o600); err != nil {
		return fmt.Errorf("write vars: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
