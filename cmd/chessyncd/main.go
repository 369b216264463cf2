package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chessync/internal/autosave"
	"github.com/kapu/chessync/internal/board"
	appcfg "github.com/kapu/chessync/internal/config"
	"github.com/kapu/chessync/internal/gateway"
	"github.com/kapu/chessync/internal/obslog"
	"github.com/kapu/chessync/internal/repl"
	"github.com/kapu/chessync/internal/session"
	"github.com/kapu/chessync/internal/statusapi"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, env overrides apply)")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsHost() {
		runHost(ctx, cfg, logger)
	} else {
		runPeer(ctx, cfg, logger)
	}
}

func runHost(ctx context.Context, cfg *appcfg.Config, logger *zap.Logger) {
	gw, err := gateway.NewRedisGateway(cfg.RedisURL, time.Duration(cfg.SaveTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("gateway init error: %v", err)
	}
	defer gw.Close()

	var archive *gateway.Archive
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		archive, err = gateway.NewArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer archive.Close()
	}

	b := board.NewChessBoard()
	ch := repl.NewChannel(logger)

	// host's own read projection, fed by self-delivery
	self := session.NewReplica(nil, logger)
	ch.SetSelf(repl.PeerFunc(self.Apply))

	coord := session.NewCoordinator(session.Config{
		Host:    true,
		Board:   b,
		Gateway: gw,
		Channel: ch,
		Archive: archive,
		Logger:  logger,
	})
	coord.SetResultHook(func(op session.Op, err error) {
		if err != nil {
			logger.Warn("operation_result", zap.String("op", string(op)), zap.Error(err))
		}
	})

	sched := autosave.New(coord, autosave.Config{
		Interval:   time.Duration(cfg.AutoSave.IntervalSec) * time.Second,
		EveryMoves: cfg.AutoSave.EveryMoves,
		Enabled:    cfg.AutoSave.Enabled,
		Logger:     logger,
	})
	coord.SetMoveHook(sched.NoteMove)
	go sched.Run(ctx)

	hub := repl.NewHub(ch, logger)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	hubSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Info("hub_listen", zap.String("addr", cfg.ListenAddr))
		if err := hubSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("hub_listen_error", zap.Error(err))
		}
	}()

	status := statusapi.New(cfg.StatusAddr, func() statusapi.Info {
		return statusapi.Info{
			SessionID:          coord.SessionID(),
			Status:             string(coord.Status()),
			MoveCount:          coord.MoveCount(),
			LastSavedMoveIndex: coord.LastSavedMoveIndex(),
			LastAppliedSeq:     self.LastSeq(),
		}
	}, logger)
	status.Start()

	if _, err := coord.StartSession(); err != nil {
		log.Fatalf("session start error: %v", err)
	}

	go commandLoop(ctx, coord, b, sched, logger)

	<-ctx.Done()
	_ = coord.End()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hubSrv.Shutdown(sctx)
	_ = status.Shutdown()
	logger.Info("shutdown_complete")
}

func runPeer(ctx context.Context, cfg *appcfg.Config, logger *zap.Logger) {
	b := board.NewChessBoard()
	replica := session.NewReplica(b, logger)

	client := repl.NewClient(cfg.HostWSURL, replica.Apply, logger)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := client.Connect(cctx)
	cancel()
	if err != nil {
		log.Fatalf("hub connect error: %v", err)
	}

	status := statusapi.New(cfg.StatusAddr, func() statusapi.Info {
		return statusapi.Info{
			SessionID:      replica.SessionID(),
			Status:         "REPLICA",
			LastAppliedSeq: replica.LastSeq(),
		}
	}, logger)
	status.Start()

	<-ctx.Done()
	cctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Close(cctx)
	_ = status.Shutdown()
	logger.Info("shutdown_complete")
}

// commandLoop is the host's console: moves and save/load commands come in
// on stdin, one per line.
func commandLoop(ctx context.Context, coord *session.Coordinator, b *board.ChessBoard, sched *autosave.Scheduler, logger *zap.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		parts := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		args := parts[1:]
		switch cmd {
		case "move":
			if len(args) != 1 {
				fmt.Println("usage: move <uci>")
				continue
			}
			if err := b.PushMove(args[0]); err != nil {
				fmt.Printf("move rejected: %v\n", err)
				continue
			}
			idx, err := coord.RecordMove()
			if err != nil {
				fmt.Printf("record error: %v\n", err)
				continue
			}
			fmt.Printf("half-move %d, fen: %s\n", idx, b.FEN())
		case "save":
			if err := coord.Save(); err != nil {
				fmt.Printf("save rejected: %v\n", err)
			}
		case "load":
			if len(args) != 1 {
				fmt.Println("usage: load <session-id>")
				continue
			}
			if err := coord.Load(args[0]); err != nil {
				fmt.Printf("load rejected: %v\n", err)
			}
		case "new":
			b.Reset()
			id, err := coord.StartSession()
			if err != nil {
				fmt.Printf("start rejected: %v\n", err)
				continue
			}
			fmt.Printf("session %s\n", id)
		case "autosave":
			if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
				fmt.Println("usage: autosave on|off")
				continue
			}
			sched.SetEnabled(args[0] == "on")
		case "status":
			fmt.Printf("session=%s state=%s moves=%d saved=%d\n",
				coord.SessionID(), coord.Status(), coord.MoveCount(), coord.LastSavedMoveIndex())
		default:
			fmt.Println("commands: move <uci> | save | load <id> | new | autosave on|off | status")
		}
	}
	if err := sc.Err(); err != nil {
		logger.Warn("stdin_error", zap.Error(err))
	}
}
