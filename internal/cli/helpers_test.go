package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/roach88/fold/internal/config"
)

// runCLI executes the root command and returns stdout, stderr and the error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// storeArgs isolates the test from any user config and returns the flags
// pointing at a fresh database and the test schemas.
func storeArgs(t *testing.T) []string {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	return []string{
		"--db", filepath.Join(t.TempDir(), "fold.db"),
		"--schemas", filepath.Join("testdata", "schemas"),
	}
}

func with(base []string, args ...string) []string {
	out := make([]string, 0, len(base)+len(args))
	out = append(out, args...)
	return append(out, base...)
}
