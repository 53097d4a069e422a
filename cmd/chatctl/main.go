package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Control a running chatsyncd session",
	Long:          "chatctl talks to the chatsyncd daemon of a session over its local socket:\nlist conversations, read and send messages, follow live events.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the session and returns a client for its daemon.
func connect() (*control.Client, string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, "", err
	}
	socketPath := session.SocketPath(name)
	if _, err := os.Stat(socketPath); err != nil || !lock.Running(session.Dir(name)) {
		return nil, "", fmt.Errorf("no daemon running for session %q (start chatsyncd --session %s)", name, name)
	}
	return control.New(socketPath), name, nil
}

// withClient runs fn with a connected client and a request deadline.
func withClient(fn func(ctx context.Context, c *control.Client) error) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
