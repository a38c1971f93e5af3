// Command archive2train turns self-play shards into model-ready rows: the
// encoded input planes plus flat policy and value targets.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/alphafour/executor/convert"
	"github.com/brensch/alphafour/store"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TrainingXRow struct {
	GameID string `parquet:"game_id,dict"`
	Turn   int32  `parquet:"turn"`
	Player int32  `parquet:"player"`

	X []byte `parquet:"x"`

	Policy int32 `parquet:"policy"`
	// Store policy distribution as scalar columns (p0..p6) for better
	// cross-library Parquet compatibility (some readers struggle with LIST<FLOAT>).
	PolicyP0 float32 `parquet:"policy_p0"`
	PolicyP1 float32 `parquet:"policy_p1"`
	PolicyP2 float32 `parquet:"policy_p2"`
	PolicyP3 float32 `parquet:"policy_p3"`
	PolicyP4 float32 `parquet:"policy_p4"`
	PolicyP5 float32 `parquet:"policy_p5"`
	PolicyP6 float32 `parquet:"policy_p6"`
	Value    float32 `parquet:"value"`

	XC int32 `parquet:"x_c"`
	XH int32 `parquet:"x_h"`
	XW int32 `parquet:"x_w"`

	Source string `parquet:"source,dict"`
}

const schemaTrainingX = "alphafour_training_x_v1"

var (
	errIncompatible  = errors.New("board does not match the model input")
	errUnknownSchema = errors.New("not a self-play training shard")
)

// toTrainingX encodes one row. Only standard boards fit the fixed model
// input; others return errIncompatible.
func toTrainingX(row store.TrainingRow) (TrainingXRow, error) {
	if row.Width != int32(convert.Width) || row.Height != int32(convert.Height) {
		return TrainingXRow{}, errIncompatible
	}
	st, err := row.State()
	if err != nil {
		return TrainingXRow{}, err
	}

	bPtr := convert.StateToBytes(st)
	x := make([]byte, len(*bPtr))
	copy(x, *bPtr)
	convert.PutBuffer(bPtr)

	probs := row.PolicyProbs
	if len(probs) != convert.Width {
		// Fall back to a one-hot distribution derived from the chosen column.
		p := int(row.Policy)
		if p < 0 || p >= convert.Width {
			return TrainingXRow{}, fmt.Errorf("invalid policy %d for game=%s turn=%d", row.Policy, row.GameID, row.Turn)
		}
		probs = make([]float32, convert.Width)
		probs[p] = 1
	}

	return TrainingXRow{
		GameID:   row.GameID,
		Turn:     row.Turn,
		Player:   row.Player,
		X:        x,
		Policy:   row.Policy,
		PolicyP0: probs[0],
		PolicyP1: probs[1],
		PolicyP2: probs[2],
		PolicyP3: probs[3],
		PolicyP4: probs[4],
		PolicyP5: probs[5],
		PolicyP6: probs[6],
		Value:    row.Value,
		XC:       int32(convert.Channels),
		XH:       int32(convert.Height),
		XW:       int32(convert.Width),
		Source:   row.Source,
	}, nil
}

func findInputs(dir string) []string {
	inputs := make([]string, 0, 1024)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})
	return inputs
}

func main() {
	inDir := flag.String("in-dir", "", "Directory containing self-play parquet shards")
	outDir := flag.String("out-dir", "", "Output directory for training parquet shards")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if *inDir == "" || *outDir == "" {
		log.Fatal().Msg("-in-dir and -out-dir are required")
	}

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		log.Fatal().Msg("out-dir must be different from in-dir")
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create out-dir")
	}

	inputs := findInputs(absIn)
	if len(inputs) == 0 {
		log.Fatal().Str("dir", absIn).Msg("no parquet inputs found")
	}

	convertedFiles, totalRows := 0, 0
	for _, inPath := range inputs {
		base := filepath.Base(inPath)
		outPath := filepath.Join(absOut, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
		n, err := convertOne(inPath, outPath)
		if err != nil {
			log.Error().Err(err).Str("file", inPath).Msg("convert failed")
			continue
		}
		if n > 0 {
			convertedFiles++
			totalRows += n
		}
	}

	if convertedFiles == 0 {
		log.Fatal().Msg("no output written (no convertible rows)")
	}
	log.Info().Int("files", convertedFiles).Int("rows", totalRows).Msg("conversion complete")
}

func convertOne(inPath string, outPath string) (int, error) {
	schema, err := store.ShardSchema(inPath)
	if err != nil {
		return 0, err
	}
	if schema != store.SchemaTrainingRow {
		return 0, fmt.Errorf("%w: %q", errUnknownSchema, schema)
	}

	inF, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer inF.Close()

	reader := parquet.NewGenericReader[store.TrainingRow](inF)
	defer reader.Close()

	outTmp := outPath + ".tmp"
	_ = os.Remove(outTmp)
	outF, err := os.OpenFile(outTmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewGenericWriter[TrainingXRow](
		outF,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	writer.SetKeyValueMetadata("schema", schemaTrainingX)

	closed := false
	defer func() {
		if !closed {
			_ = writer.Close()
			_ = outF.Close()
			_ = os.Remove(outTmp)
		}
	}()

	buf := make([]store.TrainingRow, 256)
	outBuf := make([]TrainingXRow, 0, 2048)
	rowsWritten, skipped := 0, 0

	flush := func() error {
		if len(outBuf) == 0 {
			return nil
		}
		if _, err := writer.Write(outBuf); err != nil {
			return err
		}
		rowsWritten += len(outBuf)
		outBuf = outBuf[:0]
		return nil
	}

	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			x, convErr := toTrainingX(buf[i])
			if errors.Is(convErr, errIncompatible) {
				skipped++
				continue
			}
			if convErr != nil {
				return 0, fmt.Errorf("%s: %w", inPath, convErr)
			}
			outBuf = append(outBuf, x)
			if len(outBuf) >= 2048 {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	closed = true
	if err := writer.Close(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Sync(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Close(); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("file", inPath).Msg("skipped non-standard boards")
	}
	if rowsWritten == 0 {
		_ = os.Remove(outTmp)
		return 0, nil
	}

	if err := os.Rename(outTmp, outPath); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}
	return rowsWritten, nil
}
