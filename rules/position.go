package rules

import (
	"fmt"
	"strings"

	"github.com/brensch/alphafour/game"
)

// Position adapts a game state to the search engine's state contract.
// The wrapped state is never mutated; Apply returns a fresh Position.
type Position struct {
	*game.GameState
}

func NewPosition(state *game.GameState) Position {
	return Position{GameState: state}
}

func (p Position) LegalActions() []int {
	return GetLegalMoves(p.GameState)
}

func (p Position) Apply(action int) Position {
	return Position{GameState: NextState(p.GameState, action)}
}

func (p Position) Hash() uint64 {
	return p.GameState.Hash()
}

func (p Position) Equal(other Position) bool {
	return p.GameState.Equal(other.GameState)
}

// Parse builds a state from rows drawn top row first, using X for First,
// O for Second and . for empty. The side to move is derived from the stone
// counts.
func Parse(connect int, rows ...string) (*game.GameState, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidBoard)
	}
	width := len(rows[0])
	state, err := NewGame(width, len(rows), connect)
	if err != nil {
		return nil, err
	}

	var firsts, seconds int
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrInvalidBoard, i, len(row), width)
		}
		y := len(rows) - 1 - i
		for x, c := range strings.ToUpper(row) {
			switch c {
			case 'X':
				state.Set(x, y, game.First)
				firsts++
			case 'O':
				state.Set(x, y, game.Second)
				seconds++
			case '.':
			default:
				return nil, fmt.Errorf("%w: unexpected %q at row %d", ErrInvalidBoard, c, i)
			}
		}
	}

	switch firsts - seconds {
	case 0:
		state.ToMove = game.First
	case 1:
		state.ToMove = game.Second
	default:
		return nil, fmt.Errorf("%w: %d first stones against %d second stones", ErrInvalidBoard, firsts, seconds)
	}
	state.Turn = int32(firsts + seconds)
	return state, nil
}
