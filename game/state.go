// Package game defines the core game state types for connect four.
//
// These types represent the minimal state needed for rules evaluation and
// neural network inference. The state is designed to be efficiently clonable
// for MCTS graph exploration.
package game

import (
	"strings"

	"github.com/zeebo/xxh3"
)

// Player identifies who owns a cell or whose turn it is.
type Player int8

const (
	None Player = iota
	First
	Second
)

// Opponent returns the other player. None has no opponent.
func (p Player) Opponent() Player {
	switch p {
	case First:
		return Second
	case Second:
		return First
	default:
		return None
	}
}

func (p Player) String() string {
	switch p {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return "none"
	}
}

// Symbol is the single-character board glyph for p.
func (p Player) Symbol() byte {
	switch p {
	case First:
		return 'X'
	case Second:
		return 'O'
	default:
		return '.'
	}
}

// GameState is the complete state needed for rules + inference.
// Cells are row-major with row 0 at the bottom of the board.
type GameState struct {
	Width   int32
	Height  int32
	Connect int32
	Cells   []Player
	ToMove  Player
	Turn    int32
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}

	out := &GameState{
		Width:   s.Width,
		Height:  s.Height,
		Connect: s.Connect,
		ToMove:  s.ToMove,
		Turn:    s.Turn,
	}
	if len(s.Cells) > 0 {
		out.Cells = make([]Player, len(s.Cells))
		copy(out.Cells, s.Cells)
	}
	return out
}

// At returns the owner of column x, row y. Out of range cells are None.
func (s *GameState) At(x, y int) Player {
	if x < 0 || y < 0 || x >= int(s.Width) || y >= int(s.Height) {
		return None
	}
	return s.Cells[y*int(s.Width)+x]
}

// Set assigns the owner of column x, row y.
func (s *GameState) Set(x, y int, p Player) {
	s.Cells[y*int(s.Width)+x] = p
}

// Hash is stable across processes: equal states always hash equal.
// Turn is derived from the cells and so is left out.
func (s *GameState) Hash() uint64 {
	buf := make([]byte, 0, len(s.Cells)+4)
	buf = append(buf, byte(s.Width), byte(s.Height), byte(s.Connect), byte(s.ToMove))
	for _, c := range s.Cells {
		buf = append(buf, byte(c))
	}
	return xxh3.Hash(buf)
}

// Equal reports value equality.
func (s *GameState) Equal(other *GameState) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Width != other.Width || s.Height != other.Height || s.Connect != other.Connect || s.ToMove != other.ToMove {
		return false
	}
	if len(s.Cells) != len(other.Cells) {
		return false
	}
	for i := range s.Cells {
		if s.Cells[i] != other.Cells[i] {
			return false
		}
	}
	return true
}

// Rows renders the board top row first, one string per row.
func (s *GameState) Rows() []string {
	rows := make([]string, 0, s.Height)
	for y := int(s.Height) - 1; y >= 0; y-- {
		var sb strings.Builder
		for x := 0; x < int(s.Width); x++ {
			sb.WriteByte(s.At(x, y).Symbol())
		}
		rows = append(rows, sb.String())
	}
	return rows
}

func (s *GameState) String() string {
	return strings.Join(s.Rows(), "\n")
}
