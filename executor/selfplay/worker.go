package selfplay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/brensch/alphafour/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTemperatureMoves = 8
	SourceSelfPlay          = "selfplay"
)

type GameResult struct {
	GameID string
	Winner game.Player
	Steps  int
}

// GameConfig describes one self-play game.
type GameConfig struct {
	Search      mcts.Config
	Simulations int
	// TemperatureMoves is how many opening moves are sampled from the visit
	// distribution. Later moves take the most visited action.
	TemperatureMoves int

	Width, Height, Connect int
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		Search:           mcts.DefaultConfig(),
		Simulations:      200,
		TemperatureMoves: DefaultTemperatureMoves,
		Width:            rules.StandardWidth,
		Height:           rules.StandardHeight,
		Connect:          rules.StandardConnect,
	}
}

type PlayGameOptions struct {
	Seed   int64
	Logger *zerolog.Logger
	// Verbose logs every board before it is searched.
	Verbose bool
	OnStep  func()
}

// PlayGame plays one game of the engine against itself and returns a
// training row per move. A cancelled ctx aborts the game with ctx.Err().
func PlayGame(ctx context.Context, workerID int, cfg GameConfig, client mcts.Evaluator[rules.Position], opts PlayGameOptions) ([]store.TrainingRow, GameResult, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(workerID)*1000003
	}
	rng := rand.New(rand.NewSource(seed))

	state, err := rules.NewGame(cfg.Width, cfg.Height, cfg.Connect)
	if err != nil {
		return nil, GameResult{}, err
	}
	gameID := uuid.NewString()
	logger = logger.With().Int("worker", workerID).Str("game_id", gameID).Logger()
	rec := NewRecorder(gameID, SourceSelfPlay)

	sims := cfg.Simulations
	if sims < 2 {
		sims = 2
	}

	for !rules.IsGameOver(state) {
		if err := ctx.Err(); err != nil {
			return nil, GameResult{GameID: gameID, Steps: int(state.Turn)}, err
		}
		if opts.Verbose {
			PrintBoard(logger, state)
		}

		searchCfg := cfg.Search
		searchCfg.ActionSpace = int(state.Width)
		if int(state.Turn) < cfg.TemperatureMoves {
			searchCfg.Temperature = 1
		} else {
			searchCfg.Temperature = 0
		}

		m := &mcts.MCTS[rules.Position]{
			Config: searchCfg,
			Client: client,
			Rng:    rng,
			Logger: &logger,
		}
		result, err := m.Search(ctx, rules.NewPosition(state), sims)
		if err != nil {
			return nil, GameResult{GameID: gameID, Steps: int(state.Turn)}, fmt.Errorf("search turn %d: %w", state.Turn, err)
		}

		// The policy target is always the raw visit distribution.
		policy, err := mcts.MoveDistribution(result.Graph, result.Graph.Root(), int(state.Width), 1)
		if err != nil {
			return nil, GameResult{GameID: gameID, Steps: int(state.Turn)}, err
		}
		rec.Record(state, policy, result.Action, result.Stats, result.Root)

		logger.Debug().
			Int32("turn", state.Turn).
			Stringer("player", state.ToMove).
			Int("move", result.Action).
			Int("nodes", result.Stats.Nodes).
			Msg("move")

		next, err := rules.Play(state, result.Action)
		if err != nil {
			return nil, GameResult{GameID: gameID, Steps: int(state.Turn)}, err
		}
		state = next

		if opts.OnStep != nil {
			opts.OnStep()
		}
	}

	if opts.Verbose {
		PrintBoard(logger, state)
	}

	rows, err := rec.Rows(state)
	if err != nil {
		return nil, GameResult{}, err
	}
	result := GameResult{GameID: gameID, Winner: rules.Winner(state), Steps: int(state.Turn)}
	logger.Info().Stringer("winner", result.Winner).Int("steps", result.Steps).Msg("game finished")
	return rows, result, nil
}
