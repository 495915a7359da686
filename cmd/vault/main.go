// Command vault is a terminal client for the Minerva thesis repository.
//
// Usage:
//
//	vault <command> [flags]
//
// Run "vault help" for the command list. The backend URL, timeout and token
// store come from CONFIG_PATH or the environment (MINERVA_API_URL,
// TOKEN_STORE, ...).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/config"
	"github.com/minervavault/vault/internal/session"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/minervavault/vault/internal/vault"
	"github.com/sirupsen/logrus"
)

// stderrNotifier prints failures for the person at the terminal.
type stderrNotifier struct{}

func (stderrNotifier) Error(message string) {
	fmt.Fprintln(os.Stderr, "erro:", message)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	if name == "help" || name == "-h" || name == "--help" {
		usage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if os.Getenv("VAULT_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := tokenstore.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open token store")
	}

	api := client.New(cfg.Client.BaseURL, store, logger, client.WithTimeout(cfg.Client.Timeout))
	sess := session.New(store, logger)
	svc := vault.NewService(api, sess, stderrNotifier{}, logger)

	if cmd.auth {
		svc.Bootstrap(ctx)
		if sess.Gate() != session.Authenticated {
			fmt.Fprintln(os.Stderr, "Você não está autenticado. Use: vault login -u <usuario>")
			os.Exit(1)
		}
		if sess.PasswordChangeRequired(cmd.view) {
			fmt.Fprintln(os.Stderr, "Sua senha expirou. Altere-a com: vault passwd")
			os.Exit(1)
		}
	}

	if err := cmd.run(ctx, svc, args); err != nil {
		// the notifier has already shown service failures
		logger.WithError(err).Debug("Command failed")
		os.Exit(1)
	}
}
