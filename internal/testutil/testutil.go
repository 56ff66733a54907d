// Package testutil provides testing utilities for spotbridge tests.
//
// Worker processes are emulated with the re-exec idiom: the test binary
// runs itself with -test.run=TestHelperProcess, and that function acts as
// the worker when IsHelperProcess reports true.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// HelperProcessEnv marks a test binary started as a worker.
const HelperProcessEnv = "GO_WANT_HELPER_PROCESS"

// HelperCommand returns the command line that re-executes the running test
// binary as a worker. The worker behavior is appended by the caller as
// the last argument.
func HelperCommand() []string {
	return []string{os.Args[0], "-test.run=TestHelperProcess", "--"}
}

// HelperEnv returns the environment entries a worker needs, followed by
// extra.
func HelperEnv(extra ...string) []string {
	return append([]string{HelperProcessEnv + "=1"}, extra...)
}

// IsHelperProcess reports whether the test binary runs as a worker.
func IsHelperProcess() bool {
	return os.Getenv(HelperProcessEnv) == "1"
}

// HelperMode returns the worker behavior, the last command line argument.
func HelperMode() string {
	return os.Args[len(os.Args)-1]
}

// IsolateUserDirs points the XDG config and data directories at a fresh
// temporary directory and returns it.
func IsolateUserDirs(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

// WriteFiles creates files under dir. The files map contains relative
// paths to file contents.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// AssertEmptyDir fails the test if dir holds any entry.
func AssertEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	for _, e := range entries {
		t.Errorf("unexpected entry left in %s: %s", dir, e.Name())
	}
}
