package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/alphafour/executor/evaluator"
	"github.com/brensch/alphafour/executor/inference"
	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/executor/selfplay"
	"github.com/brensch/alphafour/rules"
	"github.com/brensch/alphafour/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var totalMoves atomic.Int64
var totalGames atomic.Int64

// A worker gives up after this many failed games in a row, waiting
// failures*failureBackoff between attempts.
const maxConsecutiveFailures = 5

var failureBackoff = 200 * time.Millisecond

type GameUpdate struct {
	WorkerID int
	Result   selfplay.GameResult
	Examples int
}

type gameWriteRequest struct {
	rows []store.TrainingRow
}

type options struct {
	outDir        string
	workers       int
	gamesPerFlush int
	maxGames      int64

	game     selfplay.GameConfig
	kind     string
	rollouts int

	modelPath        string
	onnxSessions     int
	onnxBatchSize    int
	onnxBatchTimeout time.Duration

	tui      bool
	logFile  string
	logLevel string
	verbose  bool
}

func parseFlags() (options, error) {
	var o options
	o.game = selfplay.DefaultGameConfig()
	backup := "mean"

	flag.StringVar(&o.outDir, "out-dir", "data/generated", "Output directory for generated training parquet batches")
	flag.IntVar(&o.workers, "workers", runtime.NumCPU(), "Number of self-play workers")
	flag.IntVar(&o.gamesPerFlush, "games-per-flush", 50, "Number of games to buffer per parquet shard")
	flag.Int64Var(&o.maxGames, "max-games", 0, "If > 0, stop after generating this many games (across all workers)")
	flag.IntVar(&o.game.Simulations, "sims", o.game.Simulations, "Simulations per move")
	flag.Float64Var(&o.game.Search.Cpuct, "cpuct", o.game.Search.Cpuct, "Exploration constant")
	flag.IntVar(&o.game.TemperatureMoves, "temperature-moves", o.game.TemperatureMoves, "Opening moves sampled from the visit distribution")
	flag.BoolVar(&o.game.Search.Sample, "sample", false, "Sample actions during descent instead of taking the best potential")
	flag.StringVar(&backup, "backup", backup, "Backup rule: mean or running")
	flag.IntVar(&o.game.Width, "width", rules.StandardWidth, "Board width")
	flag.IntVar(&o.game.Height, "height", rules.StandardHeight, "Board height")
	flag.IntVar(&o.game.Connect, "connect", rules.StandardConnect, "Stones in a row needed to win")
	flag.StringVar(&o.kind, "evaluator", "uniform", "Evaluator: uniform, rollout or onnx")
	flag.IntVar(&o.rollouts, "rollouts", 8, "Random playouts per evaluation for -evaluator=rollout")
	flag.StringVar(&o.modelPath, "model", "models/alphafour.onnx", "ONNX model for -evaluator=onnx")
	flag.IntVar(&o.onnxSessions, "onnx-sessions", 1, "Number of ONNX Runtime sessions, each with its own batching loop")
	flag.IntVar(&o.onnxBatchSize, "onnx-batch-size", inference.DefaultBatchSize, "ONNX inference batch size")
	flag.DurationVar(&o.onnxBatchTimeout, "onnx-batch-timeout", inference.DefaultBatchTimeout, "Max time to wait for filling an ONNX batch")
	flag.BoolVar(&o.tui, "tui", false, "Show a terminal dashboard instead of periodic stats")
	flag.StringVar(&o.logFile, "log-file", "executor.log", "Log destination while the dashboard is shown")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level")
	flag.BoolVar(&o.verbose, "verbose", false, "Log every board of worker 0 at debug level")
	flag.Parse()

	rule, err := mcts.ParseBackupRule(backup)
	if err != nil {
		return o, err
	}
	o.game.Search.Backup = rule
	return o, nil
}

func setupLogging(o options) (io.Closer, error) {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)

	if !o.tui {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return nil, nil
	}
	// The dashboard owns the terminal.
	f, err := os.OpenFile(o.logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return f, nil
}

// evaluators builds one evaluator per worker around a shared backend.
type evaluators struct {
	perWorker []*evaluator.Counting
	closer    io.Closer
	stats     func() (inference.RuntimeStats, bool)
}

func (e *evaluators) Count() int64 {
	var n int64
	for _, c := range e.perWorker {
		n += c.Count()
	}
	return n
}

func newEvaluators(o options) (*evaluators, error) {
	out := &evaluators{stats: func() (inference.RuntimeStats, bool) { return inference.RuntimeStats{}, false }}

	var network mcts.Evaluator[rules.Position]
	if o.kind == "onnx" {
		if _, err := os.Stat(o.modelPath); err != nil {
			return nil, fmt.Errorf("model file not found: %s", o.modelPath)
		}
		cfg := inference.OnnxClientConfig{BatchSize: o.onnxBatchSize, BatchTimeout: o.onnxBatchTimeout}
		if o.onnxSessions <= 1 {
			client, err := inference.NewOnnxClientWithConfig(o.modelPath, cfg)
			if err != nil {
				return nil, fmt.Errorf("create onnx client: %w", err)
			}
			network = evaluator.Network{Client: client}
			out.closer = client
			out.stats = func() (inference.RuntimeStats, bool) { return client.Stats(), true }
		} else {
			pool, err := inference.NewOnnxClientPoolWithConfig(o.modelPath, o.onnxSessions, cfg)
			if err != nil {
				return nil, fmt.Errorf("create onnx pool: %w", err)
			}
			network = evaluator.Network{Client: pool}
			out.closer = pool
			out.stats = func() (inference.RuntimeStats, bool) { return pool.Stats(), true }
		}

		// Each self-play worker has about one request in flight.
		if o.onnxBatchSize > o.workers {
			log.Warn().Int("batch_size", o.onnxBatchSize).Int("workers", o.workers).Msg("batch size exceeds in-flight requests; batches will flush on timeout")
		}
	}

	for i := 0; i < o.workers; i++ {
		var inner mcts.Evaluator[rules.Position]
		switch o.kind {
		case "uniform":
			inner = evaluator.Uniform{}
		case "rollout":
			inner = &evaluator.Rollout{Playouts: o.rollouts, Rng: rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))}
		case "onnx":
			inner = network
		default:
			return nil, fmt.Errorf("unknown evaluator %q", o.kind)
		}
		out.perWorker = append(out.perWorker, &evaluator.Counting{Inner: inner})
	}
	return out, nil
}

func main() {
	o, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logCloser, err := setupLogging(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if o.workers <= 0 {
		o.workers = 1
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	evals, err := newEvaluators(o)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up evaluator")
	}
	if evals.closer != nil {
		defer evals.closer.Close()
	}

	log.Info().
		Int("workers", o.workers).
		Str("evaluator", o.kind).
		Int("sims", o.game.Simulations).
		Stringer("backup", o.game.Search.Backup).
		Str("out_dir", o.outDir).
		Msg("starting self-play")

	updates := make(chan GameUpdate, o.workers)
	writeReqs := make(chan gameWriteRequest, o.workers*4)

	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(o.outDir, o.gamesPerFlush, writeReqs)
		close(writerDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		workerID := i
		g.Go(func() error {
			return runWorker(gctx, workerID, o, evals.perWorker[workerID], writeReqs, updates, cancel)
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		err := g.Wait()
		// A failed worker ends the run, including the dashboard or report loop.
		cancel()
		close(writeReqs)
		workersDone <- err
	}()

	stats := func() statsSnapshot {
		st, ok := evals.stats()
		return statsSnapshot{
			moves:       totalMoves.Load(),
			games:       totalGames.Load(),
			evaluations: evals.Count(),
			runtime:     st,
			hasRuntime:  ok,
		}
	}

	if o.tui {
		p := tea.NewProgram(initialModel(updates, stats), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error().Err(err).Msg("dashboard failed")
		}
		cancel()
	} else {
		reportLoop(ctx, updates, stats)
	}

	log.Info().Msg("shutdown requested; waiting for workers to finish current games")
	if err := <-workersDone; err != nil {
		log.Error().Err(err).Msg("worker failed")
	}
	<-writerDone
	log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete")
}

func runWorker(ctx context.Context, workerID int, o options, client mcts.Evaluator[rules.Position], writeReqs chan<- gameWriteRequest, updates chan<- GameUpdate, stopAll context.CancelFunc) error {
	logger := log.With().Int("worker", workerID).Logger()
	logger.Debug().Msg("worker started")

	failures := 0
	for ctx.Err() == nil {
		rows, result, err := selfplay.PlayGame(ctx, workerID, o.game, client, selfplay.PlayGameOptions{
			Logger:  &logger,
			Verbose: o.verbose && workerID == 0,
			OnStep:  func() { totalMoves.Add(1) },
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			logger.Error().Err(err).Int("consecutive", failures).Msg("game aborted")
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("worker %d: %d games in a row failed: %w", workerID, failures, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(failures) * failureBackoff):
			}
			continue
		}
		failures = 0

		total := totalGames.Add(1)
		if o.maxGames > 0 && total >= o.maxGames {
			stopAll()
		}

		writeReqs <- gameWriteRequest{rows: rows}
		select {
		case updates <- GameUpdate{WorkerID: workerID, Result: result, Examples: len(rows)}:
		default:
		}
	}
	return nil
}

func reportLoop(ctx context.Context, updates <-chan GameUpdate, stats func() statsSnapshot) {
	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			log.Debug().
				Int("worker", update.WorkerID).
				Stringer("winner", update.Result.Winner).
				Int("steps", update.Result.Steps).
				Int("examples", update.Examples).
				Msg("game")
		case <-ticker.C:
			s := stats()
			secs := time.Since(startTime).Seconds()
			ev := log.Info().
				Int64("games", s.games).
				Float64("moves_per_sec", float64(s.moves)/secs).
				Float64("evals_per_sec", float64(s.evaluations)/secs)
			if s.hasRuntime {
				ev = ev.Float64("batch_avg", s.runtime.AvgBatchSize).
					Int64("batch_last", s.runtime.LastBatchSize).
					Int("queue", s.runtime.QueueLen).
					Float64("run_avg_ms", s.runtime.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}
