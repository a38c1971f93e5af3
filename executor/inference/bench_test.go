package inference

import (
	"math/rand"
	"os"
	"testing"

	"github.com/brensch/alphafour/executor/convert"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
)

func randomState(r *rand.Rand) *game.GameState {
	s := rules.Standard()
	moves := r.Intn(20)
	for i := 0; i < moves; i++ {
		legal := rules.GetLegalMoves(s)
		if len(legal) == 0 {
			break
		}
		s = rules.NextState(s, legal[r.Intn(len(legal))])
	}
	return s
}

func BenchmarkStateToFloat32(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	states := make([]*game.GameState, 1024)
	for i := range states {
		states[i] = randomState(r)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr := convert.StateToFloat32(states[i%len(states)])
		convert.PutFloatBuffer(ptr)
	}
}

func BenchmarkOnnxPredict(b *testing.B) {
	modelPath := os.Getenv("ALPHAFOUR_BENCH_ONNX_MODEL")
	if modelPath == "" {
		modelPath = "../../models/alphafour.onnx"
	}
	if _, err := os.Stat(modelPath); err != nil {
		b.Skip("ONNX model not found; set ALPHAFOUR_BENCH_ONNX_MODEL")
	}

	client, err := NewOnnxClient(modelPath)
	if err != nil {
		b.Skipf("ORT unavailable: %v", err)
	}
	defer client.Close()

	state := randomState(rand.New(rand.NewSource(2)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := client.Predict(state); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()
	st := client.Stats()
	b.ReportMetric(st.AvgBatchSize, "items/batch")
}
