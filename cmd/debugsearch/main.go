// Command debugsearch runs one search from a position and prints the root
// statistics, optionally dumping the search graph as Graphviz DOT.
//
//	debugsearch -moves 3,3,4 -sims 2000 -dot search.dot -dot-depth 2
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brensch/alphafour/executor/evaluator"
	"github.com/brensch/alphafour/executor/inference"
	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func parseMoves(s string) ([]int, error) {
	var moves []int
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		m, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad move %q: %w", f, err)
		}
		moves = append(moves, m)
	}
	return moves, nil
}

func buildState(width, height, connect int, rows, moves string) (*game.GameState, error) {
	if rows != "" {
		return rules.Parse(connect, strings.Split(rows, "/")...)
	}
	state, err := rules.NewGame(width, height, connect)
	if err != nil {
		return nil, err
	}
	played, err := parseMoves(moves)
	if err != nil {
		return nil, err
	}
	for _, m := range played {
		if state, err = rules.Play(state, m); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func main() {
	moves := flag.String("moves", "", "Comma separated columns played from an empty board")
	rows := flag.String("rows", "", "Board rows top first separated by '/', e.g. ......./.../XXX....")
	width := flag.Int("width", rules.StandardWidth, "Board width")
	height := flag.Int("height", rules.StandardHeight, "Board height")
	connect := flag.Int("connect", rules.StandardConnect, "Stones in a row needed to win")
	sims := flag.Int("sims", 1000, "Number of MCTS simulations")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	tree := flag.Bool("tree", false, "Build a tree instead of merging equal states")
	backup := flag.String("backup", "mean", "Backup rule: mean or running")
	fixed := flag.Bool("fixed", false, "Store evaluator values unnegated at every depth")
	kind := flag.String("evaluator", "rollout", "Evaluator: uniform, rollout or onnx")
	rollouts := flag.Int("rollouts", 8, "Random playouts per evaluation for -evaluator=rollout")
	modelPath := flag.String("model", "models/alphafour.onnx", "ONNX model for -evaluator=onnx")
	dotPath := flag.String("dot", "", "Write the search graph as Graphviz DOT to this file")
	dotDepth := flag.Int("dot-depth", 2, "Deepest level written to -dot; negative writes everything")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	timeout := flag.Duration("timeout", time.Minute, "Search time limit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	state, err := buildState(*width, *height, *connect, *rows, *moves)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid position")
	}
	if rules.IsGameOver(state) {
		log.Fatal().Stringer("winner", rules.Winner(state)).Msg("game is already over")
	}

	cfg := mcts.DefaultConfig()
	cfg.Cpuct = *cpuct
	cfg.Temperature = 0
	cfg.ActionSpace = int(state.Width)
	if *tree {
		cfg.Mode = mcts.Tree
	}
	if *fixed {
		cfg.Perspective = mcts.Fixed
	}
	if cfg.Backup, err = mcts.ParseBackupRule(*backup); err != nil {
		log.Fatal().Err(err).Msg("backup rule")
	}

	rng := rand.New(rand.NewSource(*seed))
	var client mcts.Evaluator[rules.Position]
	switch *kind {
	case "uniform":
		client = evaluator.Uniform{}
	case "rollout":
		client = &evaluator.Rollout{Playouts: *rollouts, Rng: rng}
	case "onnx":
		pool, err := inference.NewOnnxClientPool(*modelPath, 1)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load model")
		}
		defer pool.Close()
		client = evaluator.Network{Client: pool}
	default:
		log.Fatal().Str("evaluator", *kind).Msg("unknown evaluator")
	}
	counting := &evaluator.Counting{Inner: client}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	m := &mcts.MCTS[rules.Position]{Config: cfg, Client: counting, Rng: rng}
	start := time.Now()
	result, err := m.Search(ctx, rules.NewPosition(state), *sims)
	if err != nil && result == nil {
		log.Fatal().Err(err).Msg("search failed")
	}
	if err != nil {
		log.Warn().Err(err).Msg("search stopped early")
	}

	fmt.Println(state.String())
	fmt.Printf("to move: %s\n\n", state.ToMove)
	fmt.Print(mcts.FormatRoot(result.Root))
	fmt.Println()
	fmt.Printf("best move:     %d\n", result.Action)
	fmt.Printf("simulations:   %d in %s\n", result.Stats.Simulations, time.Since(start).Round(time.Millisecond))
	fmt.Printf("evaluations:   %d\n", counting.Count())
	fmt.Printf("nodes/edges:   %d/%d\n", result.Stats.Nodes, result.Stats.Edges)
	fmt.Printf("depth:         mean %.2f, max %d, mean leaf %.2f\n", result.Stats.MeanNodeDepth, result.Stats.MaxDepth, result.Stats.MeanLeafDepth)
	fmt.Printf("terminal hits: %d\n", result.Stats.TerminalLeaves)

	if *dotPath == "" {
		return
	}
	f, err := os.Create(*dotPath)
	if err != nil {
		log.Fatal().Err(err).Msg("create dot file")
	}
	defer f.Close()
	label := func(p rules.Position) string { return p.GameState.String() }
	if err := mcts.WriteDOT(f, result.Graph, label, *dotDepth); err != nil {
		log.Fatal().Err(err).Msg("write dot")
	}
	log.Info().Str("path", *dotPath).Msg("search graph written")
}
