package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/alphafour/executor/convert"
	"github.com/brensch/alphafour/game"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputSize  = convert.FloatSize
	PolicySize = convert.Width
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// EnvEnableCUDA opts in to the CUDA execution provider when set to a true value.
const EnvEnableCUDA = "ALPHAFOUR_ORT_ENABLE_CUDA"

var (
	// ErrUnsupportedBoard is returned for boards whose size differs from the model input.
	ErrUnsupportedBoard = errors.New("board size not supported by model")
	// ErrClosed is returned by Predict after Close.
	ErrClosed = errors.New("onnx client closed")
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// RuntimeStats summarises the batches a client has run.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  []float32
	err    error
}

// batchRunner evaluates n stacked inputs and returns the stacked outputs.
type batchRunner func(n int, input []float32) (policy, value []float32, err error)

// OnnxClient implements the inference engine using ONNX Runtime with batching
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	run          batchRunner
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig

	done      chan struct{}
	closeOnce sync.Once

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	ConfigureLibraryPath()

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many self-play workers share the machine; keep each session single threaded.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}

	if envTrue(os.Getenv(EnvEnableCUDA)) {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			log.Warn().Err(err).Msg("cuda options unavailable, using cpu")
		} else {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append cuda provider, using cpu")
			} else {
				log.Info().Msg("cuda provider enabled")
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := newClient(nil, cfg)
	client.session = session
	client.run = client.runSession
	go client.batchLoop()

	log.Debug().Str("model", modelPath).Int("batch_size", client.cfg.BatchSize).Dur("batch_timeout", client.cfg.BatchTimeout).Msg("onnx client ready")
	return client, nil
}

func newClient(run batchRunner, cfg OnnxClientConfig) *OnnxClient {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	return &OnnxClient{
		run:          run,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
	}
}

func envTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ConfigureLibraryPath points onnxruntime_go at the shared library, from
// ORT_SHARED_LIBRARY_PATH or a libonnxruntime.so found in the working
// directory or one of its parents.
func ConfigureLibraryPath() {
	if runtime.GOOS != "linux" {
		return
	}
	ensureLinuxLibraryPath()
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}

	candidates := []string{
		"libonnxruntime.so",
		"libonnxruntime.so.1",
		"libonnxruntime.so.1.23.2",
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for up := 0; up < 6; up++ {
		for _, name := range candidates {
			abs := filepath.Join(dir, name)
			if _, err := os.Stat(abs); err == nil {
				ort.SetSharedLibraryPath(abs)
				return
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// ensureLinuxLibraryPath prepends CUDA libraries installed by pip in the
// project's .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

// Close stops the batching loop and releases the session.
func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.session != nil {
			err = c.session.Destroy()
		}
	})
	return err
}

// Stats returns a snapshot of the client's batch counters.
func (c *OnnxClient) Stats() RuntimeStats {
	return RuntimeStats{
		TotalBatches:  c.totalBatches.Load(),
		TotalItems:    c.totalItems.Load(),
		TotalRunNanos: c.totalRunNanos.Load(),
		LastBatchSize: c.lastBatchSize.Load(),
		QueueLen:      len(c.requestsChan),
	}.withAverages()
}

// Add combines the counters of two snapshots. LastBatchSize keeps the
// larger of the two.
func (s RuntimeStats) Add(o RuntimeStats) RuntimeStats {
	return RuntimeStats{
		TotalBatches:  s.TotalBatches + o.TotalBatches,
		TotalItems:    s.TotalItems + o.TotalItems,
		TotalRunNanos: s.TotalRunNanos + o.TotalRunNanos,
		LastBatchSize: max(s.LastBatchSize, o.LastBatchSize),
		QueueLen:      s.QueueLen + o.QueueLen,
	}.withAverages()
}

func (s RuntimeStats) withAverages() RuntimeStats {
	s.AvgBatchSize, s.AvgRunMs = 0, 0
	if s.TotalBatches > 0 {
		s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
		s.AvgRunMs = (float64(s.TotalRunNanos) / 1e6) / float64(s.TotalBatches)
	}
	return s
}

// Predict returns the policy logits over columns and the value for the side
// to move. Only standard sized boards match the model input.
func (c *OnnxClient) Predict(state *game.GameState) ([]float32, []float32, error) {
	if int(state.Width) != convert.Width || int(state.Height) != convert.Height {
		return nil, nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedBoard, state.Width, state.Height)
	}
	select {
	case <-c.done:
		return nil, nil, ErrClosed
	default:
	}

	ptr := convert.StateToFloat32(state)
	input := make([]float32, InputSize)
	copy(input, *ptr)
	convert.PutFloatBuffer(ptr)

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: input, respChan: respChan}:
	case <-c.done:
		return nil, nil, ErrClosed
	}

	select {
	case resp := <-respChan:
		return resp.policy, resp.value, resp.err
	case <-c.done:
		return nil, nil, ErrClosed
	}
}

func (c *OnnxClient) batchLoop() {
	batchInput := make([]float32, 0, c.cfg.BatchSize*InputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-c.done:
			c.failBatch(requests, ErrClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	start := time.Now()
	policyData, valueData, err := c.run(len(requests), batchInput)
	if err != nil {
		log.Error().Err(err).Int("batch", len(requests)).Msg("inference batch failed")
		c.failBatch(requests, err)
		return
	}
	if len(policyData) < len(requests)*PolicySize || len(valueData) < len(requests)*ValueSize {
		c.failBatch(requests, fmt.Errorf("short model output: %d policy and %d value floats for %d inputs", len(policyData), len(valueData), len(requests)))
		return
	}

	c.totalBatches.Add(1)
	c.totalItems.Add(int64(len(requests)))
	c.totalRunNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatchSize.Store(int64(len(requests)))

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])

		value := make([]float32, ValueSize)
		copy(value, valueData[i*ValueSize:(i+1)*ValueSize])

		req.respChan <- inferenceResponse{policy: policy, value: value}
	}
}

func (c *OnnxClient) runSession(n int, batchInput []float32) ([]float32, []float32, error) {
	batch := int64(n)
	inputTensor, err := ort.NewTensor(ort.NewShape(batch, convert.Channels, convert.Height, convert.Width), batchInput)
	if err != nil {
		return nil, nil, err
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, PolicySize))
	if err != nil {
		return nil, nil, err
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, ValueSize))
	if err != nil {
		return nil, nil, err
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		return nil, nil, err
	}

	// The tensors are destroyed on return, so copy their data out.
	policy := append([]float32(nil), policyTensor.GetData()...)
	value := append([]float32(nil), valueTensor.GetData()...)
	return policy, value, nil
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
