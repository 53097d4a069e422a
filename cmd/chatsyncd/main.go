package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "config file")
	flag.Parse()

	params, err := resolve(*sessionFlag, *configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fx.New(daemon.Module(params)).Run()
}

// resolve builds the daemon parameters. Environment values from the home
// .env and a .env in the working directory override the config file.
func resolve(sessionFlag, configPath string) (daemon.Params, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return daemon.Params{}, err
	}
	cfg, err := config.Resolve(configPath, session.EnvPath(), ".env")
	if err != nil {
		return daemon.Params{}, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return daemon.Params{SessionName: name, Config: cfg}, nil
}
