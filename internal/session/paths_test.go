package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CHATSYNC_HOME", tmp)
	if got := ConfigPath(); got != filepath.Join(tmp, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "chatsyncd.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix sessions/test/chatsyncd.sock", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}

func TestResolve(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CHATSYNC_HOME", tmp)
	t.Setenv("CHATSYNC_DEFAULT_SESSION", "")
	os.Unsetenv("CHATSYNC_DEFAULT_SESSION")

	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() = %q, want %q", got, DefaultSessionName)
	}
	if err := os.WriteFile(ConfigPath(), []byte("default_session = \"work\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want work", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on empty home = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(BaseDir(), "sessions", "stray.txt"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "main,work" {
		t.Errorf("List() = %v", names)
	}
}
