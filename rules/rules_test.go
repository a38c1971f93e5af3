package rules

import (
	"testing"

	"github.com/brensch/alphafour/game"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, connect int, rows ...string) *game.GameState {
	t.Helper()
	s, err := Parse(connect, rows...)
	require.NoError(t, err)
	return s
}

func TestNewGame(t *testing.T) {
	s := Standard()
	require.Equal(t, int32(StandardWidth), s.Width)
	require.Equal(t, int32(StandardHeight), s.Height)
	require.Equal(t, game.First, s.ToMove)
	require.Len(t, s.Cells, StandardWidth*StandardHeight)

	_, err := NewGame(0, 6, 4)
	require.ErrorIs(t, err, ErrInvalidBoard)
	_, err = NewGame(3, 3, 5)
	require.ErrorIs(t, err, ErrInvalidBoard)
}

func TestPlay(t *testing.T) {
	t.Run("stones stack and turns alternate", func(t *testing.T) {
		s := Standard()
		a, err := Play(s, 3)
		require.NoError(t, err)
		b, err := Play(a, 3)
		require.NoError(t, err)

		require.Equal(t, game.First, b.At(3, 0))
		require.Equal(t, game.Second, b.At(3, 1))
		require.Equal(t, game.First, b.ToMove)
		require.Equal(t, int32(2), b.Turn)
		require.Equal(t, game.None, s.At(3, 0), "input state must not be mutated")
	})

	t.Run("full column", func(t *testing.T) {
		s := mustParse(t, 3,
			"O..",
			"X..",
			"O..",
			"X..",
		)
		_, err := Play(s, 0)
		require.ErrorIs(t, err, ErrIllegalMove)
		require.Equal(t, []int{1, 2}, GetLegalMoves(s))
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := Play(Standard(), 7)
		require.ErrorIs(t, err, ErrIllegalMove)
		_, err = Play(Standard(), -1)
		require.ErrorIs(t, err, ErrIllegalMove)
	})

	t.Run("game over", func(t *testing.T) {
		s := mustParse(t, 4,
			".......",
			".......",
			"O......",
			"XO.....",
			"XO.....",
			"XXXXOO.",
		)
		_, err := Play(s, 6)
		require.ErrorIs(t, err, ErrIllegalMove)
		require.Empty(t, GetLegalMoves(s))
	})
}

func TestWinner(t *testing.T) {
	cases := []struct {
		name string
		rows []string
		want game.Player
	}{
		{
			name: "horizontal",
			rows: []string{
				".......",
				".......",
				".......",
				".......",
				"OOO....",
				"XXXX...",
			},
			want: game.First,
		},
		{
			name: "vertical",
			rows: []string{
				".......",
				".......",
				"O......",
				"O.....X",
				"O.....X",
				"OX...XX",
			},
			want: game.Second,
		},
		{
			name: "rising diagonal",
			rows: []string{
				".......",
				".......",
				"...X...",
				"..XO...",
				".XOO...",
				"XOOXX..",
			},
			want: game.First,
		},
		{
			name: "falling diagonal",
			rows: []string{
				".......",
				".......",
				"O......",
				"XO.....",
				"XXO....",
				"XXXO...",
			},
			want: game.Second,
		},
		{
			name: "no line",
			rows: []string{
				".......",
				".......",
				".......",
				".......",
				".......",
				"XXXOO.O",
			},
			want: game.None,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Parse(4, tc.rows...)
			if err != nil {
				// Fixtures describe positions, not necessarily legal move orders.
				s = &game.GameState{Width: 7, Height: 6, Connect: 4, Cells: make([]game.Player, 42)}
				for i, row := range tc.rows {
					for x, c := range row {
						switch c {
						case 'X':
							s.Set(x, 5-i, game.First)
						case 'O':
							s.Set(x, 5-i, game.Second)
						}
					}
				}
			}
			require.Equal(t, tc.want, Winner(s))
			require.Equal(t, tc.want != game.None, IsGameOver(s))
		})
	}
}

func TestDraw(t *testing.T) {
	s := mustParse(t, 3,
		"XOX",
		"XOX",
		"OXO",
	)
	require.Equal(t, game.None, Winner(s))
	require.True(t, IsDraw(s))
	require.True(t, IsGameOver(s))
	require.Equal(t, ValueDraw, GetResult(s, game.First))
}

func TestGetResult(t *testing.T) {
	s := mustParse(t, 3,
		"...",
		"OO.",
		"XXX",
	)
	require.Equal(t, ValueWin, GetResult(s, game.First))
	require.Equal(t, ValueLoss, GetResult(s, game.Second))
}

func TestParse(t *testing.T) {
	s := mustParse(t, 4,
		".......",
		".......",
		".......",
		".......",
		"...O...",
		"...X...",
	)
	require.Equal(t, game.First, s.At(3, 0))
	require.Equal(t, game.Second, s.At(3, 1))
	require.Equal(t, game.First, s.ToMove)
	require.Equal(t, int32(2), s.Turn)

	_, err := Parse(4, "XX.", "...")
	require.ErrorIs(t, err, ErrInvalidBoard)
	_, err = Parse(4, "X?.", "...")
	require.ErrorIs(t, err, ErrInvalidBoard)
	_, err = Parse(4, "X..", "..")
	require.ErrorIs(t, err, ErrInvalidBoard)
}

func TestPosition(t *testing.T) {
	p := NewPosition(Standard())
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, p.LegalActions())

	a := p.Apply(0).Apply(1).Apply(2)
	b := p.Apply(2).Apply(1).Apply(0)
	require.True(t, a.Equal(b), "transposed move orders reach the same position")
	require.Equal(t, a.Hash(), b.Hash())
	require.False(t, a.Equal(p))
	require.Equal(t, game.None, p.At(0, 0), "Apply must not mutate the receiver")
}
