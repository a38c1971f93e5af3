package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/alphafour/rules"
	"github.com/stretchr/testify/require"
)

func sampleRows(t *testing.T) []TrainingRow {
	t.Helper()
	s := rules.Standard()
	var rows []TrainingRow
	for turn, move := range []int{3, 2, 3} {
		rows = append(rows, TrainingRow{
			GameID:      "g1",
			Turn:        int32(turn),
			Player:      int32(s.ToMove),
			Width:       s.Width,
			Height:      s.Height,
			Connect:     s.Connect,
			Board:       EncodeBoard(s),
			Policy:      int32(move),
			PolicyProbs: []float32{0, 0, 0.25, 0.75, 0, 0, 0},
			Value:       1,
			Simulations: 100,
			Source:      "selfplay",
		})
		s = rules.NextState(s, move)
	}
	rows[1].Value = -1
	rows[2].RootJSON = []byte(`[{"action":3,"n":10,"q":0.5,"p":0.2}]`)
	return rows
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	rows := sampleRows(t)

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)

	got, err := ReadTrainingRows(path)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for i := range rows {
		require.Equal(t, rows[i].Board, got[i].Board)
		require.Equal(t, rows[i].Player, got[i].Player)
		require.Equal(t, rows[i].Policy, got[i].Policy)
		require.Equal(t, rows[i].PolicyProbs, got[i].PolicyProbs)
		require.Equal(t, rows[i].Value, got[i].Value)
	}
	require.JSONEq(t, string(rows[2].RootJSON), string(got[2].RootJSON))

	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Equal(t, []string{path}, shards)
}

func TestWriteGameParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "game.parquet")
	require.NoError(t, WriteGameParquet(path, sampleRows(t)))

	got, err := ReadTrainingRows(path)
	require.NoError(t, err)
	require.Len(t, got, 3)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestTrainingRowState(t *testing.T) {
	rows := sampleRows(t)

	state, err := rows[2].State()
	require.NoError(t, err)
	require.Equal(t, int32(2), state.Turn)
	require.Equal(t, rows[2].Player, int32(state.ToMove))

	want := rules.NextState(rules.NextState(rules.Standard(), 3), 2)
	require.True(t, want.Equal(state))

	bad := rows[0]
	bad.Board = "xx/yy"
	_, err = bad.State()
	require.ErrorIs(t, err, rules.ErrInvalidBoard)
}

func TestBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	rows := sampleRows(t)
	require.NoError(t, w.WriteGame(rows))
	require.NoError(t, w.WriteGame(rows[:1]))
	require.Equal(t, 2, w.BufferedGames())
	require.Equal(t, 4, w.BufferedRows())

	out, n, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 2, games)
	require.Equal(t, w.OutPath(), out)

	got, err := ReadTrainingRows(out)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, rows[0].Board, got[3].Board)

	require.ErrorIs(t, w.WriteRows(rows), ErrWriterClosed)
	again, _, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestShardSchema(t *testing.T) {
	dir := t.TempDir()
	batch, err := WriteBatchParquetAtomic(dir, sampleRows(t))
	require.NoError(t, err)

	w, err := NewBatchWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteGame(sampleRows(t)))
	streamed, _, _, err := w.Finalize()
	require.NoError(t, err)

	for _, path := range []string{batch, streamed} {
		schema, err := ShardSchema(path)
		require.NoError(t, err)
		require.Equal(t, SchemaTrainingRow, schema, path)
	}

	_, err = ShardSchema(filepath.Join(dir, "missing.parquet"))
	require.Error(t, err)
}

func TestBatchWriter_Empty(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	out, n, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, n)
	_, err = os.Stat(w.TmpPath())
	require.True(t, os.IsNotExist(err))
}
