// Package encoder produces normalized embedding vectors with a local ONNX
// model. One inference session is created per process and reused for every
// batch.
package encoder

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ragline/ragline/internal/hub"
	"github.com/ragline/ragline/internal/ragerr"
	"github.com/ragline/ragline/internal/tokenize"
)

// Device selects the execution provider.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// ParseDevice validates a --device value.
func ParseDevice(s string) (Device, error) {
	switch Device(s) {
	case DeviceCPU, DeviceCUDA:
		return Device(s), nil
	default:
		return "", fmt.Errorf("%w: unknown device %q (expected cpu or cuda)", ragerr.ErrConfig, s)
	}
}

// DefaultModelID is the embedding model the pipeline ships with.
const DefaultModelID = "intfloat/e5-small-v2"

// onnxCandidates are the filenames tried when --onnx-filename is not given.
var onnxCandidates = []string{
	"onnx/model.onnx",
	"model.onnx",
	"e5-small-v2.onnx",
}

// E5 asymmetric prefixes: passages and queries are embedded differently.
const (
	passagePrefix = "passage: "
	queryPrefix   = "query: "
)

// Options configure the encoder.
type Options struct {
	ModelID      string
	ONNXFilename string // empty tries common names
	Device       Device
	Dim          int // expected output dimension; mismatch is fatal
	MaxSeqLen    int
}

// Encoder owns the tokenizer and the ONNX session. It is not safe for
// concurrent use; commands run batches sequentially.
type Encoder struct {
	tok     *tokenize.Tokenizer
	session *ort.DynamicAdvancedSession
	dim     int
}

var ortInit sync.Once

func initRuntime() (err error) {
	ortInit.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		err = ort.InitializeEnvironment()
	})
	if err != nil {
		return fmt.Errorf("%w: init onnxruntime: %v", ragerr.ErrModel, err)
	}
	return nil
}

// New resolves the tokenizer and model through the cache and builds the
// inference session.
func New(ctx context.Context, resolver hub.Resolver, opts Options) (*Encoder, error) {
	if opts.ModelID == "" {
		opts.ModelID = DefaultModelID
	}
	if opts.Device == "" {
		opts.Device = DeviceCPU
	}
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive", ragerr.ErrConfig)
	}

	tokPath, err := resolver.Resolve(ctx, opts.ModelID, "tokenizer.json")
	if err != nil {
		return nil, err
	}
	tok, err := tokenize.NewFromFile(tokPath, opts.MaxSeqLen)
	if err != nil {
		return nil, err
	}

	onnxPath, err := resolveONNX(ctx, resolver, opts.ModelID, opts.ONNXFilename)
	if err != nil {
		return nil, err
	}

	if err := initRuntime(); err != nil {
		return nil, err
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ragerr.ErrModel, err)
	}
	defer func() { _ = sessOpts.Destroy() }()

	if opts.Device == DeviceCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("%w: cuda provider: %v", ragerr.ErrModel, err)
		}
		defer func() { _ = cuda.Destroy() }()
		if err := sessOpts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("%w: enable cuda: %v", ragerr.ErrModel, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		sessOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: load onnx session %s: %v", ragerr.ErrModel, onnxPath, err)
	}

	return &Encoder{tok: tok, session: session, dim: opts.Dim}, nil
}

func resolveONNX(ctx context.Context, resolver hub.Resolver, modelID, filename string) (string, error) {
	if filename != "" {
		return resolver.Resolve(ctx, modelID, filename)
	}
	var lastErr error
	for _, name := range onnxCandidates {
		p, err := resolver.Resolve(ctx, modelID, name)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: no ONNX file found in %s (pass --onnx-filename): %v", ragerr.ErrModel, modelID, lastErr)
}

// Close releases the inference session.
func (e *Encoder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// Dim is the configured output dimension.
func (e *Encoder) Dim() int { return e.dim }

// EmbedPassages embeds chunk texts with the passage prefix.
func (e *Encoder) EmbedPassages(texts []string) ([][]float32, error) {
	return e.embed(texts, passagePrefix)
}

// EmbedQuery embeds a single query string with the query prefix.
func (e *Encoder) EmbedQuery(query string) ([]float32, error) {
	out, err := e.embed([]string{query}, queryPrefix)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *Encoder) embed(texts []string, prefix string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	batch, err := e.tok.EncodeBatch(prefixed)
	if err != nil {
		return nil, err
	}

	b := len(batch.InputIDs)
	s := batch.SeqLen
	shape := ort.NewShape(int64(b), int64(s))

	idsT, err := ort.NewTensor(shape, flatten(batch.InputIDs, s))
	if err != nil {
		return nil, fmt.Errorf("%w: input_ids tensor: %v", ragerr.ErrModel, err)
	}
	defer func() { _ = idsT.Destroy() }()
	maskT, err := ort.NewTensor(shape, flatten(batch.AttentionMask, s))
	if err != nil {
		return nil, fmt.Errorf("%w: attention_mask tensor: %v", ragerr.ErrModel, err)
	}
	defer func() { _ = maskT.Destroy() }()
	typeT, err := ort.NewTensor(shape, flatten(batch.TokenTypeIDs, s))
	if err != nil {
		return nil, fmt.Errorf("%w: token_type_ids tensor: %v", ragerr.ErrModel, err)
	}
	defer func() { _ = typeT.Destroy() }()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsT, maskT, typeT}, outputs); err != nil {
		return nil, fmt.Errorf("%w: inference: %v", ragerr.ErrModel, err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output tensor type", ragerr.ErrModel)
	}
	defer func() { _ = out.Destroy() }()

	vecs, err := Pool(out.GetData(), out.GetShape(), batch.AttentionMask)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if len(v) != e.dim {
			return nil, fmt.Errorf("%w: model produced dim=%d but --dim=%d was specified (vector %d)",
				ragerr.ErrConfig, len(v), e.dim, i)
		}
	}
	return vecs, nil
}

func flatten(rows [][]int64, width int) []int64 {
	flat := make([]int64, 0, len(rows)*width)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return flat
}

// Pool reduces raw model output to one L2-normalized vector per sequence.
// Rank-3 output [batch, seq, dim] is mean-pooled under the attention mask;
// rank-2 output [batch, dim] is already pooled and only normalized.
func Pool(data []float32, shape []int64, mask [][]int64) ([][]float32, error) {
	switch len(shape) {
	case 2:
		b, d := int(shape[0]), int(shape[1])
		out := make([][]float32, b)
		for i := range b {
			v := make([]float32, d)
			copy(v, data[i*d:(i+1)*d])
			out[i] = L2Normalize(v)
		}
		return out, nil
	case 3:
		b, s, d := int(shape[0]), int(shape[1]), int(shape[2])
		if len(mask) != b {
			return nil, fmt.Errorf("%w: mask batch %d != output batch %d", ragerr.ErrInvariant, len(mask), b)
		}
		out := make([][]float32, b)
		for i := range b {
			v := make([]float64, d)
			var count float64
			for j := 0; j < s && j < len(mask[i]); j++ {
				if mask[i][j] == 0 {
					continue
				}
				count++
				row := data[(i*s+j)*d : (i*s+j+1)*d]
				for k, x := range row {
					v[k] += float64(x)
				}
			}
			if count < 1 {
				count = 1
			}
			pooled := make([]float32, d)
			for k := range pooled {
				pooled[k] = float32(v[k] / count)
			}
			out[i] = L2Normalize(pooled)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unexpected output rank %d; expected 2 or 3", ragerr.ErrModel, len(shape))
	}
}

// L2Normalize scales v to unit length in place. A zero vector stays zero.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}
