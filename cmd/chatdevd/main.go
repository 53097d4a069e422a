// Command chatdevd runs an in-memory chat backend for local development. It
// serves the same REST and stream endpoints chatsyncd connects to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/devserver"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/session"
	"go.uber.org/zap"
)

// demoUsers seed the backend when the config names none.
var demoUsers = []config.DevUser{
	{ID: "ana", Name: "Ana", Role: "teacher", Token: "dev-ana"},
	{ID: "bia", Name: "Bia", Role: "student", Token: "dev-bia"},
	{ID: "caio", Name: "Caio", Role: "student", Token: "dev-caio"},
}

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.Resolve(configPath, session.EnvPath(), ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Dev.Addr = *addrFlag
	}

	logger, err := logging.NewConsole(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv := devserver.New(cfg.Dev.Addr, logger)
	users := cfg.Dev.Users
	chats := cfg.Dev.Chats
	if len(users) == 0 {
		users = demoUsers
		chats = [][]string{{"ana", "bia"}, {"ana", "caio"}}
	}
	for _, u := range users {
		srv.AddUser(devserver.User{ID: u.ID, Name: u.Name, Role: u.Role, Token: u.Token, Unlinked: u.Unlinked})
		logger.Info("user", zap.String("id", u.ID), zap.String("token", u.Token))
	}
	for _, pair := range chats {
		if len(pair) != 2 {
			logger.Warn("skipping chat seed, want two participants", zap.Strings("participants", pair))
			continue
		}
		id, err := srv.CreateChat(pair[0], pair[1])
		if err != nil {
			logger.Warn("skipping chat seed", zap.Strings("participants", pair), zap.Error(err))
			continue
		}
		logger.Info("chat", zap.String("id", id), zap.Strings("participants", pair))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("dev backend failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
}
