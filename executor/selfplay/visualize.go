package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/alphafour/executor/convert"
	"github.com/brensch/alphafour/game"
	"github.com/rs/zerolog"
)

// PrintBoard logs the board and the planes the network sees for it at debug level.
func PrintBoard(logger zerolog.Logger, state *game.GameState) {
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n=== Turn %d (%s to move) ===\n", state.Turn, state.ToMove)
	sb.WriteString(state.String() + "\n")
	printEncodedLayers(&sb, state)
	logger.Debug().Msg(sb.String())
}

func printEncodedLayers(sb *strings.Builder, state *game.GameState) {
	dataPtr := convert.StateToFloat32(state)
	defer convert.PutFloatBuffer(dataPtr)
	data := *dataPtr

	names := [convert.Channels]string{"to_move", "opponent"}
	w, h := int(state.Width), int(state.Height)

	sb.WriteString("\n--- Encoded input layers (C,H,W) ---\n")
	for c := 0; c < convert.Channels; c++ {
		fmt.Fprintf(sb, "Layer %d (%s):\n", c, names[c])
		base := c * h * w
		for y := h - 1; y >= 0; y-- {
			for x := 0; x < w; x++ {
				if data[base+y*w+x] == 0 {
					sb.WriteString(" .")
				} else {
					sb.WriteString(" 1")
				}
			}
			sb.WriteString("\n")
		}
	}
}
