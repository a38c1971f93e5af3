package convert

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
)

const (
	Width         = rules.StandardWidth
	Height        = rules.StandardHeight
	Channels      = 2
	BytesPerFloat = 4
	BufferSize    = Channels * Width * Height * BytesPerFloat
	FloatSize     = Channels * Width * Height
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// PlaneSize is the number of floats one encoded state occupies.
func PlaneSize(state *game.GameState) int {
	return Channels * int(state.Width) * int(state.Height)
}

// visit calls fn for every occupied cell with the channel it encodes to:
// 0 for the side to move, 1 for its opponent. idx is the offset inside a
// [Channels, Height, Width] tensor, with row 0 the bottom of the board.
func visit(state *game.GameState, fn func(idx int)) {
	w, h := int(state.Width), int(state.Height)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := state.At(x, y)
			if p == game.None {
				continue
			}
			c := 1
			if p == state.ToMove {
				c = 0
			}
			fn(c*h*w + y*w + x)
		}
	}
}

// StateToFloat32 encodes the GameState into a pooled float32 slice suitable for ONNX input.
// Output shape: [Channels, Height, Width] (C, H, W)
// Channel 0 marks the stones of the side to move, channel 1 the opponent's.
// Returns a pointer to the float slice. Caller must return it to pool using PutFloatBuffer.
func StateToFloat32(state *game.GameState) *[]float32 {
	dataPtr := GetFloatBuffer()
	size := PlaneSize(state)
	if cap(*dataPtr) < size {
		*dataPtr = make([]float32, size)
	}
	*dataPtr = (*dataPtr)[:size]
	data := *dataPtr
	clear(data)

	visit(state, func(idx int) { data[idx] = 1 })
	return dataPtr
}

// StateToBytes flattens the GameState into little-endian float32 bytes with
// the same layout as StateToFloat32. This is the X column of training shards.
// Returns a pointer to the byte slice. Caller must return it to pool using PutBuffer.
func StateToBytes(state *game.GameState) *[]byte {
	dataPtr := GetBuffer()
	size := PlaneSize(state) * BytesPerFloat
	if cap(*dataPtr) < size {
		*dataPtr = make([]byte, size)
	}
	*dataPtr = (*dataPtr)[:size]
	data := *dataPtr
	clear(data)

	one := math.Float32bits(1)
	visit(state, func(idx int) {
		binary.LittleEndian.PutUint32(data[idx*BytesPerFloat:], one)
	})
	return dataPtr
}

// BytesToFloat32 decodes a StateToBytes buffer.
func BytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out
}
