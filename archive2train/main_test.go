package main

import (
	"path/filepath"
	"testing"

	"github.com/brensch/alphafour/executor/convert"
	"github.com/brensch/alphafour/rules"
	"github.com/brensch/alphafour/store"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func rowAfter(t *testing.T, moves ...int) store.TrainingRow {
	t.Helper()
	state := rules.Standard()
	var err error
	for _, m := range moves {
		state, err = rules.Play(state, m)
		require.NoError(t, err)
	}
	probs := make([]float32, rules.StandardWidth)
	probs[2] = 0.75
	probs[4] = 0.25
	return store.TrainingRow{
		GameID:      "g1",
		Turn:        state.Turn,
		Player:      int32(state.ToMove),
		Width:       state.Width,
		Height:      state.Height,
		Connect:     state.Connect,
		Board:       store.EncodeBoard(state),
		Policy:      2,
		PolicyProbs: probs,
		Value:       -1,
		Source:      "selfplay",
	}
}

func TestToTrainingX(t *testing.T) {
	x, err := toTrainingX(rowAfter(t, 3))
	require.NoError(t, err)
	require.EqualValues(t, convert.Channels, x.XC)
	require.EqualValues(t, convert.Height, x.XH)
	require.EqualValues(t, convert.Width, x.XW)
	require.Equal(t, float32(0.75), x.PolicyP2)
	require.Equal(t, float32(0.25), x.PolicyP4)
	require.Equal(t, float32(-1), x.Value)

	// X's stone in column 3 belongs to the opponent of O, who is to move.
	planes := convert.BytesToFloat32(x.X)
	require.Len(t, planes, convert.FloatSize)
	opp := convert.Width * convert.Height
	for i, v := range planes {
		if i == opp+3 {
			require.Equal(t, float32(1), v)
		} else {
			require.Zero(t, v, "index %d", i)
		}
	}
}

func TestToTrainingX_OneHotFallback(t *testing.T) {
	row := rowAfter(t)
	row.PolicyProbs = nil
	row.Policy = 5
	x, err := toTrainingX(row)
	require.NoError(t, err)
	require.Equal(t, float32(1), x.PolicyP5)
	require.Zero(t, x.PolicyP2)

	row.Policy = 9
	_, err = toTrainingX(row)
	require.Error(t, err)
	require.NotErrorIs(t, err, errIncompatible)
}

func TestToTrainingX_Incompatible(t *testing.T) {
	row := rowAfter(t)
	row.Width = 4
	_, err := toTrainingX(row)
	require.ErrorIs(t, err, errIncompatible)
}

func TestConvertOne(t *testing.T) {
	inDir := t.TempDir()
	small := rowAfter(t)
	small.Width, small.Height, small.Connect, small.Board = 4, 4, 3, "..../..../..../...."
	rows := []store.TrainingRow{rowAfter(t), rowAfter(t, 3), small}
	in, err := store.WriteBatchParquetAtomic(inDir, rows)
	require.NoError(t, err)
	require.Equal(t, []string{in}, findInputs(inDir))

	out := filepath.Join(t.TempDir(), "out.train.parquet")
	n, err := convertOne(in, out)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := parquet.ReadFile[TrainingXRow](out)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.EqualValues(t, 0, got[0].Turn)
	require.EqualValues(t, 1, got[1].Turn)
	require.Len(t, got[1].X, convert.BufferSize)
}

func TestConvertOne_RejectsOtherShards(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "x.parquet")
	require.NoError(t, parquet.WriteFile(in, []TrainingXRow{{GameID: "g"}}))

	_, err := convertOne(in, filepath.Join(dir, "out.parquet"))
	require.ErrorIs(t, err, errUnknownSchema)
}
