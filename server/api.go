package main

import (
	"encoding/json"
	"fmt"

	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
)

type InfoResponse struct {
	APIVersion string `json:"apiversion"`
	Author     string `json:"author"`
	Game       string `json:"game"`
	Evaluator  string `json:"evaluator"`
	Version    string `json:"version"`
}

// Board describes a position either by its rows (top first, X/O/.) or
// by the columns played from an empty board. Zero dimensions mean the
// standard 7x6 connect four board.
type Board struct {
	Width   int      `json:"width,omitempty"`
	Height  int      `json:"height,omitempty"`
	Connect int      `json:"connect,omitempty"`
	Rows    []string `json:"rows,omitempty"`
	Moves   []int    `json:"moves,omitempty"`
}

type MoveRequest struct {
	Board     Board `json:"board"`
	TimeoutMs int   `json:"timeout_ms,omitempty"`
}

type MoveResponse struct {
	Move         int                 `json:"move"`
	Distribution []float64           `json:"distribution,omitempty"`
	Simulations  int                 `json:"simulations"`
	Root         []mcts.ChildSummary `json:"root,omitempty"`
	Fallback     bool                `json:"fallback,omitempty"`
}

// Event is the envelope of every websocket message in both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	EventState   = "state"
	EventMove    = "move"
	EventGameEnd = "game_end"
	EventError   = "error"
	EventNew     = "new"
)

type StateEvent struct {
	Rows   []string `json:"rows"`
	ToMove string   `json:"to_move"`
	Legal  []int    `json:"legal"`
	Turn   int32    `json:"turn"`
	Human  string   `json:"human"`
}

type MoveEvent struct {
	Player      string `json:"player"`
	Column      int    `json:"column"`
	Simulations int    `json:"simulations,omitempty"`
}

type GameEndEvent struct {
	Winner string `json:"winner"`
	Draw   bool   `json:"draw"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// NewGameRequest starts a fresh game; Human is "X" or "O".
type NewGameRequest struct {
	Human string `json:"human,omitempty"`
	Board Board  `json:"board"`
}

func newEvent(typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: raw}, nil
}

// State builds the described position.
func (b Board) State() (*game.GameState, error) {
	w, h, c := b.Width, b.Height, b.Connect
	if w == 0 {
		w = rules.StandardWidth
	}
	if h == 0 {
		h = rules.StandardHeight
	}
	if c == 0 {
		c = rules.StandardConnect
	}

	if len(b.Rows) > 0 {
		return rules.Parse(c, b.Rows...)
	}

	state, err := rules.NewGame(w, h, c)
	if err != nil {
		return nil, err
	}
	for i, m := range b.Moves {
		state, err = rules.Play(state, m)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
	}
	return state, nil
}

func stateEvent(state *game.GameState, human game.Player) StateEvent {
	return StateEvent{
		Rows:   state.Rows(),
		ToMove: state.ToMove.String(),
		Legal:  rules.GetLegalMoves(state),
		Turn:   state.Turn,
		Human:  human.String(),
	}
}

func parsePlayer(s string) (game.Player, error) {
	switch s {
	case "", "X", "x", "first":
		return game.First, nil
	case "O", "o", "second":
		return game.Second, nil
	default:
		return game.None, fmt.Errorf("unknown player %q", s)
	}
}
