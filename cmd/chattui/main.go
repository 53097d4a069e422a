package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/tui"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

const startupTimeout = 10 * time.Second

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	themeFlag := flag.String("theme", "dark", "color theme: dark or light")
	flag.Parse()

	if err := run(*sessionFlag, *themeFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(sessionFlag, theme string) error {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return err
	}

	c := control.New(session.SocketPath(name))
	defer func() { _ = c.Close() }()

	st, err := ensureDaemon(c, name)
	if err != nil {
		return err
	}
	return tui.NewApp(c, name, st.ActorID, ui.ThemeByName(theme)).Run()
}

// ensureDaemon returns the status of the session daemon, starting one when
// nothing holds the session lock. A held lock with a silent socket means a
// daemon is still starting, so it is waited for instead of spawning another.
func ensureDaemon(c *control.Client, name string) (*control.Status, error) {
	if st, err := probe(c); err == nil {
		return st, nil
	}
	if !lock.Running(session.Dir(name)) {
		fmt.Fprintf(os.Stderr, "starting chatsyncd for session %q...\n", name)
		if err := spawnDaemon(name); err != nil {
			return nil, fmt.Errorf("start daemon: %w", err)
		}
	}

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(300 * time.Millisecond)
		if st, err := probe(c); err == nil {
			return st, nil
		}
	}
	return nil, fmt.Errorf("daemon for session %q did not answer within %s (see %s)",
		name, startupTimeout, session.LogPath(name))
}

func probe(c *control.Client) (*control.Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Status(ctx)
}

// spawnDaemon starts chatsyncd from next to this binary, or from PATH, in
// its own session so it outlives the terminal client. Its console output is
// dropped; it would draw over the screen and the log file has it all.
func spawnDaemon(name string) error {
	bin := "chatsyncd"
	if exe, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(exe), bin); fileExists(sibling) {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "--session", name)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
