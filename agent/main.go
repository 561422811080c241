// Command agent runs one participant of a board: it hosts or joins the board
// through the signaling relay and serves the browser UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"retroboard/internal/board"
	"retroboard/internal/checkpoint"
	"retroboard/internal/config"
	"retroboard/internal/discovery"
	"retroboard/internal/logging"
	"retroboard/internal/roster"
	"retroboard/internal/session"
	"retroboard/internal/transport/wsnet"
	"retroboard/internal/ui"
)

func main() {
	if err := mainInner(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainInner() error {
	configPath := flag.String("config", "retroboard.yaml", "path to the config file")
	boardFlag := flag.String("board", "", "board id to open; empty creates a new board")
	boardNameFlag := flag.String("board-name", "", "name for a newly created board")
	nameFlag := flag.String("name", "", "display name shown to other participants")
	discover := flag.Bool("discover", false, "list boards announced on the LAN and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if *discover {
		return listLAN(cfg)
	}

	boardID, created, err := pickBoardID(*boardFlag, cfg.Agent.BoardID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.OpenStore(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()
	cp := checkpoint.New(store, boardID, logger)
	if created {
		if err := cp.SetName(ctx, *boardNameFlag); err != nil {
			return fmt.Errorf("name new board: %w", err)
		}
		logger.Info("Created new board",
			zap.String("boardId", boardID),
			zap.String("boardName", board.NormalizeName(*boardNameFlag)))
	} else if *boardNameFlag != "" {
		logger.Warn("Ignoring -board-name for an existing board", zap.String("boardId", boardID))
	}

	userName, err := resolveUserName(ctx, cp, *nameFlag, cfg.Agent.UserName)
	if err != nil {
		return err
	}

	sess := session.New(session.Options{
		BoardID:    boardID,
		UserName:   userName,
		Network:    wsnet.New(wsnet.Options{URL: cfg.Signaling.URL, Logger: logger}),
		Checkpoint: cp,
		Logger:     logger,
	})
	hub := ui.NewHub(sess, logger)

	ln, err := net.Listen("tcp", cfg.Agent.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Agent.Listen, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	routes := ui.RouterOptions{Checkpoint: cp, UIDir: cfg.Agent.UIDir}
	if cfg.Discovery.Enabled {
		routes.Browse = func(ctx context.Context) ([]discovery.Board, error) {
			return discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain)
		}
	}
	httpServer := &http.Server{Handler: hub.Router(routes)}

	go sess.Run(ctx)
	go hub.Run(ctx)
	if cfg.Discovery.Enabled {
		go announce(ctx, sess, discovery.NewAnnouncer(cfg.Discovery.Service, cfg.Discovery.Domain, port, logger), logger)
	}

	go func() {
		logger.Info("Agent listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("boardId", boardID),
			zap.String("userName", userName))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	select {
	case <-sess.Done():
	case <-shutdownCtx.Done():
	}
	return nil
}

// pickBoardID returns the flag, then the config board id. With neither set a
// fresh id is generated and created is true.
func pickBoardID(flagID, configID string) (id string, created bool, err error) {
	id = flagID
	if id == "" {
		id = configID
	}
	if id == "" {
		return board.NewID(), true, nil
	}
	if !board.ValidID(id) {
		return "", false, fmt.Errorf("invalid board id %q", id)
	}
	return id, false, nil
}

// resolveUserName picks the flag, then the config, then the saved name. An
// explicit name is saved for next time.
func resolveUserName(ctx context.Context, cp *checkpoint.Checkpoint, flagName, configName string) (string, error) {
	name := flagName
	if name == "" {
		name = configName
	}
	if name != "" {
		if err := cp.SetUserName(ctx, name); err != nil {
			return "", fmt.Errorf("save user name: %w", err)
		}
		return name, nil
	}
	saved, ok, err := cp.UserName(ctx)
	if err != nil {
		return "", fmt.Errorf("load user name: %w", err)
	}
	if ok && saved != "" {
		return saved, nil
	}
	return roster.PlaceholderName, nil
}

// announce advertises the board on the LAN for as long as this agent hosts it.
func announce(ctx context.Context, sess *session.Session, a *discovery.Announcer, logger *zap.Logger) {
	views, cancel := sess.Subscribe()
	defer cancel()
	defer a.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			if err := a.Update(v.BoardID, v.BoardName, v.Role == session.RoleHost); err != nil {
				logger.Warn("LAN announcement failed", zap.Error(err))
			}
		}
	}
}

func listLAN(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	boards, err := discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain)
	if err != nil {
		return err
	}
	if len(boards) == 0 {
		fmt.Println("No boards found on the local network.")
		return nil
	}
	for _, b := range boards {
		fmt.Printf("%s\t%s\t%s:%d\n", b.BoardID, b.Name, b.Host, b.Port)
	}
	return nil
}
