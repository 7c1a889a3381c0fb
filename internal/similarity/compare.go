package similarity

import (
	"context"
	"fmt"
	"math"
	"sync"
)

const (
	DefaultWindow      = 300
	DefaultOverlap     = 50
	DefaultThreshold   = 0.85
	DefaultMaxSegments = 50

	minChunkRunes = 20
)

// Options tunes the sliding-window comparison. Zero values select defaults.
type Options struct {
	Window      int
	Overlap     int
	Threshold   float64
	MaxSegments int
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Overlap < 0 || o.Overlap >= o.Window {
		o.Overlap = min(DefaultOverlap, o.Window/2)
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = DefaultMaxSegments
	}
	return o
}

// Chunk is a window of a document, positioned in runes.
type Chunk struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Segment pairs a chunk of A with its most similar chunk of B.
type Segment struct {
	A     Chunk   `json:"doc_a_chunk"`
	B     Chunk   `json:"doc_b_chunk"`
	Score float64 `json:"score"`
}

// Comparison is the duplicate-content report of document A against B.
type Comparison struct {
	OverallSimilarity float64   `json:"overall_similarity"`
	DuplicateCount    int       `json:"duplicate_count"`
	Segments          []Segment `json:"segments"`
	Embedder          string    `json:"embedder"`
}

// Engine compares documents with embedders produced by its factory. A fresh
// embedder is prepared per comparison on the chunks of both documents.
type Engine struct {
	factory func() Embedder
	opts    Options
}

// NewEngine creates an engine. A nil factory selects TF-IDF.
func NewEngine(factory func() Embedder, opts Options) *Engine {
	if factory == nil {
		factory = func() Embedder { return NewTFIDF() }
	}
	return &Engine{factory: factory, opts: opts.withDefaults()}
}

// Lazy defers engine construction until first use.
type Lazy struct {
	get func() *Engine
}

// NewLazy wraps engine construction so it runs once, on the first call to Engine.
func NewLazy(build func() *Engine) *Lazy {
	return &Lazy{get: sync.OnceValue(build)}
}

// Engine returns the shared engine, building it on first use.
func (l *Lazy) Engine() *Engine {
	return l.get()
}

// Compare reports which windows of a have a near-duplicate window in b. The
// overall similarity is the share of a covered by duplicate windows, capped at 1.
func (e *Engine) Compare(ctx context.Context, a, b string) (Comparison, error) {
	chunksA := window(a, e.opts.Window, e.opts.Overlap)
	chunksB := window(b, e.opts.Window, e.opts.Overlap)

	emb := e.factory()
	result := Comparison{Segments: []Segment{}, Embedder: emb.Name()}
	if len(chunksA) == 0 || len(chunksB) == 0 {
		return result, nil
	}

	corpus := make([]string, 0, len(chunksA)+len(chunksB))
	for _, c := range chunksA {
		corpus = append(corpus, c.Text)
	}
	for _, c := range chunksB {
		corpus = append(corpus, c.Text)
	}
	if err := emb.Prepare(corpus); err != nil {
		// Windows without any token cannot be duplicates of anything.
		return result, nil
	}

	vecsA, err := embedAll(ctx, emb, chunksA)
	if err != nil {
		return Comparison{}, err
	}
	vecsB, err := embedAll(ctx, emb, chunksB)
	if err != nil {
		return Comparison{}, err
	}

	dupRunes := 0
	for i, va := range vecsA {
		best, bestIdx := -1.0, -1
		for j, vb := range vecsB {
			if s := cosine(va, vb); s > best {
				best, bestIdx = s, j
			}
		}
		if best <= e.opts.Threshold {
			continue
		}
		result.DuplicateCount++
		dupRunes += chunksA[i].End - chunksA[i].Start
		if len(result.Segments) < e.opts.MaxSegments {
			result.Segments = append(result.Segments, Segment{A: chunksA[i], B: chunksB[bestIdx], Score: round(best, 4)})
		}
	}

	if total := len([]rune(a)); total > 0 {
		result.OverallSimilarity = round(math.Min(float64(dupRunes)/float64(total), 1), 4)
	}
	return result, nil
}

func embedAll(ctx context.Context, emb Embedder, chunks []Chunk) ([][]float64, error) {
	out := make([][]float64, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := emb.Embed(c.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// window slices text into overlapping rune windows, dropping short fragments.
func window(text string, size, overlap int) []Chunk {
	r := []rune(text)
	step := size - overlap
	var out []Chunk
	for i := 0; i < len(r); i += step {
		end := min(i+size, len(r))
		if end-i < minChunkRunes {
			continue
		}
		out = append(out, Chunk{Text: string(r[i:end]), Start: i, End: end})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
