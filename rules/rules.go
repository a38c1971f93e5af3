package rules

import (
	"errors"
	"fmt"

	"github.com/brensch/alphafour/game"
)

const (
	StandardWidth   = 7
	StandardHeight  = 6
	StandardConnect = 4
)

var (
	// ErrIllegalMove is returned by Play for a full or out of range column,
	// or for any move once the game is over.
	ErrIllegalMove = errors.New("illegal move")

	// ErrInvalidBoard is returned by NewGame and Parse for impossible dimensions.
	ErrInvalidBoard = errors.New("invalid board")
)

// NewGame returns an empty board with First to move.
func NewGame(width, height, connect int) (*game.GameState, error) {
	if width <= 0 || height <= 0 || width > 64 || height > 64 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidBoard, width, height)
	}
	if connect <= 1 || (connect > width && connect > height) {
		return nil, fmt.Errorf("%w: connect %d on %dx%d", ErrInvalidBoard, connect, width, height)
	}
	return &game.GameState{
		Width:   int32(width),
		Height:  int32(height),
		Connect: int32(connect),
		Cells:   make([]game.Player, width*height),
		ToMove:  game.First,
	}, nil
}

// Standard returns the 7x6 connect four opening position.
func Standard() *game.GameState {
	s, _ := NewGame(StandardWidth, StandardHeight, StandardConnect)
	return s
}

// GetLegalMoves returns the non-full columns in ascending order.
// Once the game is over there are no legal moves.
func GetLegalMoves(state *game.GameState) []int {
	if IsGameOver(state) {
		return nil
	}
	moves := make([]int, 0, state.Width)
	top := int(state.Height) - 1
	for x := 0; x < int(state.Width); x++ {
		if state.At(x, top) == game.None {
			moves = append(moves, x)
		}
	}
	return moves
}

// dropRow is the row a stone dropped into column x lands on, or -1 when full.
func dropRow(state *game.GameState, x int) int {
	for y := 0; y < int(state.Height); y++ {
		if state.At(x, y) == game.None {
			return y
		}
	}
	return -1
}

// Play applies move for the side to move and returns the new state.
// The input state is never modified.
func Play(state *game.GameState, move int) (*game.GameState, error) {
	if IsGameOver(state) {
		return nil, fmt.Errorf("%w: game is over", ErrIllegalMove)
	}
	if move < 0 || move >= int(state.Width) {
		return nil, fmt.Errorf("%w: column %d out of range", ErrIllegalMove, move)
	}
	y := dropRow(state, move)
	if y < 0 {
		return nil, fmt.Errorf("%w: column %d is full", ErrIllegalMove, move)
	}

	next := state.Clone()
	next.Set(move, y, state.ToMove)
	next.ToMove = state.ToMove.Opponent()
	next.Turn++
	return next, nil
}

// NextState is Play for moves already known to be legal, such as those
// returned by GetLegalMoves. An illegal move returns an unchanged clone.
func NextState(state *game.GameState, move int) *game.GameState {
	next, err := Play(state, move)
	if err != nil {
		return state.Clone()
	}
	return next
}

var directions = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// Winner returns the player owning a line of Connect stones, or None.
func Winner(state *game.GameState) game.Player {
	w, h, n := int(state.Width), int(state.Height), int(state.Connect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := state.At(x, y)
			if p == game.None {
				continue
			}
			for _, d := range directions {
				run := 1
				for run < n && state.At(x+d[0]*run, y+d[1]*run) == p {
					run++
				}
				if run == n {
					return p
				}
			}
		}
	}
	return game.None
}

// IsDraw returns true if the board is full without a winner.
func IsDraw(state *game.GameState) bool {
	for _, c := range state.Cells {
		if c == game.None {
			return false
		}
	}
	return Winner(state) == game.None
}

// IsGameOver returns true if someone has won or the board is full.
func IsGameOver(state *game.GameState) bool {
	if Winner(state) != game.None {
		return true
	}
	for _, c := range state.Cells {
		if c == game.None {
			return false
		}
	}
	return true
}

// Outcome values from one player's perspective.
const (
	ValueWin  float32 = 1
	ValueLoss float32 = -1
	ValueDraw float32 = 0
)

// GetResult returns the result of the game for perspective
// (+1 for win, -1 for loss, 0 for draw or an unfinished game).
func GetResult(state *game.GameState, perspective game.Player) float32 {
	switch Winner(state) {
	case game.None:
		return ValueDraw
	case perspective:
		return ValueWin
	default:
		return ValueLoss
	}
}
