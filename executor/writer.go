package main

import (
	"github.com/brensch/alphafour/store"
	"github.com/rs/zerolog/log"
)

// parquetWriterLoop streams finished games into shards of gamesPerFlush
// games each until in is closed.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var w *store.BatchWriter
	finalize := func() {
		if w == nil {
			return
		}
		outPath, rows, games, err := w.Finalize()
		w = nil
		if err != nil {
			log.Error().Err(err).Msg("parquet flush failed")
			return
		}
		if outPath != "" {
			log.Info().Str("path", outPath).Int("games", games).Int("rows", rows).Msg("parquet flush ok")
		}
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		if w == nil {
			var err error
			w, err = store.NewBatchWriter(outDir)
			if err != nil {
				log.Error().Err(err).Int("rows", len(req.rows)).Msg("open batch writer; dropping game")
				continue
			}
		}
		if err := w.WriteGame(req.rows); err != nil {
			log.Error().Err(err).Int("rows", len(req.rows)).Msg("write game")
			continue
		}
		if w.BufferedGames() >= gamesPerFlush {
			finalize()
		}
	}
	finalize()
}
