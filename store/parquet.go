package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaTrainingRow is stored under the "schema" key of every shard.
const SchemaTrainingRow = "alphafour_training_row_v1"

// TrainingRow is one self-play move: the position, the search's visit
// distribution and the final outcome for the player who moved.
//
// Board is the position before the move, rows top first separated by "/",
// using X, O and . as in rules.Parse.
// Policy is the column that was played; PolicyProbs has one entry per column.
// Value is 1 if Player went on to win, -1 if it lost and 0 for a draw.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Turn        int32     `parquet:"turn"`
	Player      int32     `parquet:"player"`
	Width       int32     `parquet:"width"`
	Height      int32     `parquet:"height"`
	Connect     int32     `parquet:"connect"`
	Board       string    `parquet:"board"`
	Policy      int32     `parquet:"policy"`
	PolicyProbs []float32 `parquet:"policy_probs"`
	Value       float32   `parquet:"value"`
	MeanDepth   float32   `parquet:"mean_depth"`
	Simulations int32     `parquet:"simulations"`
	Source      string    `parquet:"source,dict"`

	// RootJSON is the JSON list of root children ({action, n, q, p}) so a
	// move can be inspected without rerunning the search.
	RootJSON []byte `parquet:"root_json,optional,zstd"`
}

// EncodeBoard renders state in the Board column format.
func EncodeBoard(state *game.GameState) string {
	return strings.Join(state.Rows(), "/")
}

// State decodes the Board column back into a game state.
func (r TrainingRow) State() (*game.GameState, error) {
	state, err := rules.Parse(int(r.Connect), strings.Split(r.Board, "/")...)
	if err != nil {
		return nil, fmt.Errorf("decode board of %s turn %d: %w", r.GameID, r.Turn, err)
	}
	if state.Width != r.Width || state.Height != r.Height {
		return nil, fmt.Errorf("decode board of %s turn %d: %dx%d board in a %dx%d row", r.GameID, r.Turn, state.Width, state.Height, r.Width, r.Height)
	}
	return state, nil
}

// writerOptions is the shard layout shared by every writer of TrainingRow
// files: zstd pages, no page bounds for the JSON blob, and the schema tag.
func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("root_json"),
		parquet.KeyValueMetadata("schema", SchemaTrainingRow),
	}
}

// stagePaths prepares outDir/tmp and returns a fresh shard name's staging
// and final paths.
func stagePaths(outDir string) (tmpPath, finalPath string, err error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create tmp dir: %w", err)
	}
	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	return filepath.Join(tmpDir, name+".tmp"), filepath.Join(outDir, name), nil
}

// commit moves a fully written file into place, removing it on failure.
func commit(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteGameParquet writes rows to outPath through a temp file and a rename.
func WriteGameParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}
	return commit(tmpPath, outPath)
}

// WriteBatchParquetAtomic writes a Parquet file into outDir/tmp and then
// moves it into outDir, so readers never see a partial file.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	tmpPath, finalPath, err := stagePaths(outDir)
	if err != nil {
		return "", err
	}
	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := commit(tmpPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// ShardSchema returns the schema tag stored in a shard's metadata, or ""
// when it has none.
func ShardSchema(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	schema, _ := pf.Lookup("schema")
	return schema, nil
}

// ReadTrainingRows reads every row of a training shard.
func ReadTrainingRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ListShards returns the parquet files directly inside dir, skipping tmp/.
func ListShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".parquet") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
