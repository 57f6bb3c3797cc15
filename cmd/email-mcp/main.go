package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nhle/email-mcp/internal/api"
	"github.com/nhle/email-mcp/internal/archive"
	"github.com/nhle/email-mcp/internal/credential"
	"github.com/nhle/email-mcp/internal/imapconn"
	"github.com/nhle/email-mcp/internal/logging"
	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/message"
	"github.com/nhle/email-mcp/internal/model"
	"github.com/nhle/email-mcp/internal/sender"
	"github.com/nhle/email-mcp/internal/service"
	"github.com/nhle/email-mcp/internal/store"
	appsync "github.com/nhle/email-mcp/internal/sync"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "Path to the YAML config file")
	initConfig := flag.Bool("init", false, "Write a config file with default values and exit")
	setPassword := flag.String("set-password", "", "Store a password read from stdin in the keyring: imap or s3")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Serves mailbox operations as JSON tools over HTTP.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s_*    overrides any config key, e.g. %s_IMAP_HOST\n", model.EnvPrefix, model.EnvPrefix)
	}
	flag.Parse()

	var err error
	switch {
	case *showVersion:
		fmt.Println("email-mcp", version)
		return
	case *initConfig:
		err = writeDefaultConfig(*configPath)
	case *setPassword != "":
		err = storePassword(*configPath, *setPassword)
	default:
		err = run(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "email-mcp: %v\n", err)
		os.Exit(1)
	}
}

func writeDefaultConfig(path string) error {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func storePassword(path, kind string) error {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}

	var username string
	switch kind {
	case "imap":
		username = cfg.Account.Username
	case "s3":
		username = cfg.Export.S3.AccessKeyID
	default:
		return fmt.Errorf("unknown password kind %q (want imap or s3)", kind)
	}
	if username == "" {
		return fmt.Errorf("no %s username configured in %s", kind, path)
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}
	if err := credential.Set(credential.Key(kind, username), strings.TrimRight(line, "\r\n")); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Stored.")
	return nil
}

func loadConfig(path string) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cfg.Account.Password, err = credential.Resolve(cfg.Account.Password, "imap", cfg.Account.Username)
	if err != nil {
		return nil, fmt.Errorf("resolving mailbox password: %w", err)
	}
	if cfg.Export.S3.Bucket != "" && cfg.Export.S3.AccessKeyID != "" {
		cfg.Export.S3.SecretAccessKey, err = credential.Resolve(cfg.Export.S3.SecretAccessKey, "s3", cfg.Export.S3.AccessKeyID)
		if err != nil {
			return nil, fmt.Errorf("resolving s3 secret: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	slog.SetDefault(log)

	if cfg.Storage.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	dialer := imapconn.NewDialer(imapconn.Config{
		Host:    cfg.IMAP.Host,
		Port:    cfg.IMAP.Port,
		TLS:     cfg.IMAP.TLS,
		Timeout: time.Duration(cfg.IMAP.TimeoutSec) * time.Second,
		Logger:  log,
	})
	staleAfter := time.Duration(cfg.IMAP.StaleAfterSec) * time.Second
	if cfg.IMAP.StaleAfterSec == 0 {
		staleAfter = -1
	}
	session := mailbox.NewSession(dialer, mailbox.Options{
		Username:   cfg.Account.Username,
		Password:   cfg.Account.Password,
		StaleAfter: staleAfter,
		Logger:     log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Connect(ctx); err != nil {
		if errors.As(err, new(*mailbox.AuthenticationError)) {
			return err
		}
		// The session reconnects on first use.
		log.Warn("initial IMAP connection failed", slog.Any("error", err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Disconnect(disconnectCtx)
	}()

	smtp := sender.New(sender.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.Account.Username,
		Password: cfg.Account.Password,
		TLS:      cfg.SMTP.TLS,
		Timeout:  time.Duration(cfg.SMTP.TimeoutSec) * time.Second,
	}, log)

	var remote archive.Storage
	if cfg.Export.S3.Bucket != "" {
		s3Storage, err := archive.NewS3Storage(cfg.Export.S3)
		if err != nil {
			return err
		}
		remote = s3Storage
	}

	var watcher *appsync.Poller
	if len(cfg.Watch.Folders) > 0 {
		// The poller selects folders, so it gets a connection of its own.
		watchSession := mailbox.NewSession(dialer, mailbox.Options{
			Username:   cfg.Account.Username,
			Password:   cfg.Account.Password,
			StaleAfter: staleAfter,
			Logger:     log,
		})
		if err := watchSession.Connect(ctx); err != nil {
			// Polls reconnect on their own once Connect has been asked for.
			log.Warn("initial watcher IMAP connection failed", slog.Any("error", err))
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = watchSession.Disconnect(disconnectCtx)
		}()
		watcher = appsync.New(service.NewFolderService(watchSession, log), appsync.Config{
			Folders:  cfg.Watch.Folders,
			Interval: time.Duration(cfg.Watch.IntervalSec) * time.Second,
		}, log)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	from := message.Address{Name: cfg.Account.DisplayName, Email: cfg.FromAddress()}
	handler := api.NewHandler(api.Services{
		Email:   service.NewEmailService(session, smtp, st, from, log),
		Folders: service.NewFolderService(session, log),
		Archive: archive.New(session, st, &archive.LocalStorage{Dir: cfg.Export.Dir}, remote, log),
		Watcher: watcher,
	}, session, version, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, log),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", cfg.Server.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
