package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHelperCommand(t *testing.T) {
	cmd := HelperCommand()
	if cmd[0] != os.Args[0] || cmd[len(cmd)-1] != "--" {
		t.Errorf("HelperCommand() = %v", cmd)
	}
	env := HelperEnv("A=1")
	if len(env) != 2 || env[0] != HelperProcessEnv+"=1" || env[1] != "A=1" {
		t.Errorf("HelperEnv() = %v", env)
	}
	if IsHelperProcess() {
		t.Error("IsHelperProcess() = true in a regular test")
	}
}

func TestIsolateUserDirs(t *testing.T) {
	dir := IsolateUserDirs(t)
	if !strings.HasPrefix(os.Getenv("XDG_CONFIG_HOME"), dir) || !strings.HasPrefix(os.Getenv("XDG_DATA_HOME"), dir) {
		t.Errorf("XDG dirs not under %s", dir)
	}
}

func TestWriteFilesAndAssertEmptyDir(t *testing.T) {
	dir := t.TempDir()
	AssertEmptyDir(t, dir)

	WriteFiles(t, dir, map[string]string{"a/b.txt": "hello"})
	data, err := os.ReadFile(filepath.Join(dir, "a", "b.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
}
