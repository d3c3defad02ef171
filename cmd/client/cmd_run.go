package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arqut/arqut-desk/internal/client"
	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/pkg/logger"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
)

func runClient() {
	cfg, err := loadClientConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	id, pw := cfg.Identity.UserID, cfg.Identity.Password
	if id == "" || pw == "" {
		genID, genPw := generateIdentity()
		if id == "" {
			id = genID
		}
		if pw == "" {
			pw = genPw
		}
	}

	con, err := newConsole("desk> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open console: %v\n", err)
		os.Exit(1)
	}
	defer con.Close()

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: con,
	})

	clip := &memClipboard{}
	deps := client.Collaborators{
		Input:     &logInput{logger: log.Logger},
		Clipboard: clip,
		Audio:     &countingAudio{},
	}
	if captureIn != "" {
		deps.Capture = &fileCapture{path: captureIn}
	}
	if frameOut != "" {
		deps.Display = &fileDisplay{path: frameOut, logger: log.Logger}
	}

	c := client.New(cfg, deps, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx, id, pw); err != nil {
		log.Error("Failed to connect", "server", cfg.Server.Host, "port", cfg.Server.Port, "error", err)
		con.Close()
		os.Exit(1)
	}
	defer c.Close()

	con.Println(fmt.Sprintf("Logged in. Your ID: %s  Password: %s", id, pw))
	con.Println("Type 'help' for commands.")

	bars := newTransferBars(os.Stderr)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(con, bars, c.Events())
	}()

	// Closing the readline instance unblocks the loop below
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		con.Close()
	}()

	sh := &shell{client: c, out: con.Println}
	if cfg.Clipboard.Enabled {
		sh.clipboard = clip
	}
	for {
		line, err := con.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					break
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug("Console read failed", "error", err)
			}
			break
		}
		if sh.exec(line) {
			break
		}
	}

	c.Close()
	<-done
	bars.Wait()
}

// loadClientConfig reads the config file, or uses the defaults when it does
// not exist
func loadClientConfig(path string) (*config.ClientConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := &config.ClientConfig{
			P2P:       config.P2PConfig{Enabled: true},
			Clipboard: config.ClipboardConfig{Enabled: true},
		}
		config.ApplyClientDefaults(cfg)
		return cfg, nil
	}
	return config.LoadClient(path)
}

func applyFlags(cfg *config.ClientConfig) {
	if userID != "" {
		cfg.Identity.UserID = userID
	}
	if password != "" {
		cfg.Identity.Password = password
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
		cfg.Server.RelayPort = serverPort + 1
	}
	if relayOnly {
		cfg.P2P.ForceRelay = true
	}
}

// generateIdentity returns a 9 digit user id and a 6 character password
func generateIdentity() (string, string) {
	id := fmt.Sprintf("%09d", uuid.New().ID()%1_000_000_000)
	pw := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return id, pw
}
