package selfplay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/brensch/alphafour/store"
)

// ErrGameNotFinished is returned when training rows are requested for a
// game that has no result yet.
var ErrGameNotFinished = errors.New("game not finished")

type move struct {
	state       *game.GameState
	policy      []float64
	action      int
	simulations int
	meanDepth   float64
	root        []mcts.ChildSummary
}

// Recorder collects the searched positions of one game until its outcome
// is known.
type Recorder struct {
	GameID string
	Source string

	moves []move
}

func NewRecorder(gameID, source string) *Recorder {
	return &Recorder{GameID: gameID, Source: source}
}

// Record stores state, the policy target the search produced for it and the
// action that was played.
func (r *Recorder) Record(state *game.GameState, policy []float64, action int, stats mcts.SearchStats, root []mcts.ChildSummary) {
	r.moves = append(r.moves, move{
		state:       state.Clone(),
		policy:      append([]float64(nil), policy...),
		action:      action,
		simulations: stats.Simulations,
		meanDepth:   stats.MeanNodeDepth,
		root:        append([]mcts.ChildSummary(nil), root...),
	})
}

func (r *Recorder) Len() int { return len(r.moves) }

// Rows labels every recorded position with the outcome of final for the
// player who moved there: 1 for a win, -1 for a loss and 0 for a draw.
func (r *Recorder) Rows(final *game.GameState) ([]store.TrainingRow, error) {
	if !rules.IsGameOver(final) {
		return nil, fmt.Errorf("%w: %s after %d moves", ErrGameNotFinished, r.GameID, len(r.moves))
	}

	rows := make([]store.TrainingRow, 0, len(r.moves))
	for _, m := range r.moves {
		probs := make([]float32, len(m.policy))
		for i, p := range m.policy {
			probs[i] = float32(p)
		}
		var rootJSON []byte
		if len(m.root) > 0 {
			b, err := json.Marshal(m.root)
			if err != nil {
				return nil, fmt.Errorf("encode root summary: %w", err)
			}
			rootJSON = b
		}

		rows = append(rows, store.TrainingRow{
			GameID:      r.GameID,
			Turn:        m.state.Turn,
			Player:      int32(m.state.ToMove),
			Width:       m.state.Width,
			Height:      m.state.Height,
			Connect:     m.state.Connect,
			Board:       store.EncodeBoard(m.state),
			Policy:      int32(m.action),
			PolicyProbs: probs,
			Value:       rules.GetResult(final, m.state.ToMove),
			MeanDepth:   float32(m.meanDepth),
			Simulations: int32(m.simulations),
			Source:      r.Source,
			RootJSON:    rootJSON,
		})
	}
	return rows, nil
}
