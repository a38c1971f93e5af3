// Command server plays connect four over HTTP and websockets.
//
// POST /move answers a single position; GET /ws runs an interactive game in
// which the engine replies to every move.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/alphafour/executor/evaluator"
	"github.com/brensch/alphafour/executor/inference"
	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/rules"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", ":8080", "HTTP listen address")
	kind := fs.String("evaluator", "rollout", "Evaluator: uniform, rollout or onnx")
	rollouts := fs.Int("rollouts", 8, "Random playouts per evaluation for -evaluator=rollout")
	modelPath := fs.String("model", "models/alphafour.onnx", "Path to ONNX model")
	sessions := fs.Int("sessions", 1, "Number of ONNX sessions")
	moveTimeout := fs.Duration("move-timeout", time.Second, "Search time per move")
	mctsSims := fs.Int("mcts-sims", 20000, "Max simulations per move (stops early on timeout)")
	cpuct := fs.Float64("cpuct", 1.5, "Exploration constant")
	backup := fs.String("backup", "mean", "Backup rule: mean or running")
	logLevel := fs.String("log-level", "info", "Log level")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("flag parse")
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := mcts.DefaultConfig()
	cfg.Cpuct = *cpuct
	if cfg.Backup, err = mcts.ParseBackupRule(*backup); err != nil {
		log.Fatal().Err(err).Msg("backup rule")
	}

	var newEvaluator func() mcts.Evaluator[rules.Position]
	switch *kind {
	case "uniform":
		newEvaluator = func() mcts.Evaluator[rules.Position] { return evaluator.Uniform{} }
	case "rollout":
		newEvaluator = func() mcts.Evaluator[rules.Position] {
			return &evaluator.Rollout{Playouts: *rollouts, Rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
		}
	case "onnx":
		log.Info().Str("model", *modelPath).Msg("loading model")
		pool, err := inference.NewOnnxClientPool(*modelPath, *sessions)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create inference pool")
		}
		defer pool.Close()
		network := evaluator.Network{Client: pool}
		newEvaluator = func() mcts.Evaluator[rules.Position] { return network }
	default:
		log.Fatal().Str("evaluator", *kind).Msg("unknown evaluator")
	}

	server := NewServer(newEvaluator, *kind, cfg, *moveTimeout, *mctsSims, log.Logger)
	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", *listen).Str("evaluator", *kind).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}
