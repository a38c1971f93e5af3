package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// ErrWriterClosed is returned when writing to a finalized BatchWriter.
var ErrWriterClosed = errors.New("batch writer is closed")

// BatchWriter streams the rows of many games into one shard staged under
// outDir/tmp. Finalize publishes it; a shard without rows is discarded.
type BatchWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	games int
	rows  int
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, errors.New("outDir is required")
	}
	if abs, err := filepath.Abs(outDir); err == nil {
		outDir = abs
	}
	tmpPath, outPath, err := stagePaths(outDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	return &BatchWriter{
		tmpPath: tmpPath,
		outPath: outPath,
		file:    f,
		writer:  parquet.NewGenericWriter[TrainingRow](f, writerOptions()...),
	}, nil
}

func (b *BatchWriter) TmpPath() string    { return b.tmpPath }
func (b *BatchWriter) OutPath() string    { return b.outPath }
func (b *BatchWriter) BufferedGames() int { return b.games }
func (b *BatchWriter) BufferedRows() int  { return b.rows }

// WriteGame appends the rows of one finished game.
func (b *BatchWriter) WriteGame(rows []TrainingRow) error {
	if err := b.WriteRows(rows); err != nil {
		return err
	}
	b.games++
	return nil
}

func (b *BatchWriter) WriteRows(rows []TrainingRow) error {
	if b.writer == nil {
		return ErrWriterClosed
	}
	if len(rows) == 0 {
		return nil
	}
	n, err := b.writer.Write(rows)
	b.rows += n
	return err
}

// Finalize flushes the shard and moves it into outDir. It returns an empty
// path when nothing was written. Calling it again is a no-op.
func (b *BatchWriter) Finalize() (outPath string, rows int, games int, err error) {
	if b.writer == nil {
		return "", 0, 0, nil
	}
	closeErr := b.writer.Close()
	_ = b.file.Sync()
	fileErr := b.file.Close()
	b.writer, b.file = nil, nil

	switch {
	case closeErr != nil:
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, fmt.Errorf("close parquet writer: %w", closeErr)
	case fileErr != nil:
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, fmt.Errorf("close parquet file: %w", fileErr)
	case b.rows == 0:
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, nil
	}
	if err := commit(b.tmpPath, b.outPath); err != nil {
		return "", 0, 0, err
	}
	return b.outPath, b.rows, b.games, nil
}
