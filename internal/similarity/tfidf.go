package similarity

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Embedder turns text into fixed-dimension vectors after being prepared on a corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Embed(text string) ([]float64, error)
	Dimension() int
}

// TFIDF is a TF-IDF vectorizer. Latin and digit runs are single tokens; runs
// of Han characters are split into overlapping bigrams.
type TFIDF struct {
	vocabulary map[string]int
	idf        []float64
	dimension  int
	prepared   bool
	stopwords  map[string]struct{}
}

var tokenPattern = regexp.MustCompile(`\p{Han}+|(?:[^\P{L}\p{Han}]|\p{N})+`)

// NewTFIDF creates an unprepared TF-IDF embedder.
func NewTFIDF() *TFIDF {
	return &TFIDF{
		vocabulary: make(map[string]int),
		stopwords:  defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *TFIDF) Name() string { return "tfidf" }

// Prepare builds the vocabulary and smoothed IDF values from the corpus.
func (e *TFIDF) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return errors.New("no tokens found in corpus")
	}

	e.vocabulary = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	e.dimension = len(terms)
	e.prepared = true
	return nil
}

// Dimension returns the dimensionality of the produced vectors.
func (e *TFIDF) Dimension() int { return e.dimension }

// Embed computes the L2-normalized TF-IDF vector of text.
func (e *TFIDF) Embed(text string) ([]float64, error) {
	if !e.prepared {
		return nil, errors.New("tfidf embedder not prepared")
	}
	vec := make([]float64, e.dimension)
	tf := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec, nil
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * e.idf[idx]
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *TFIDF) tokenize(text string) []string {
	var out []string
	for _, run := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		r := []rune(run)
		if !unicode.Is(unicode.Han, r[0]) {
			if _, stop := e.stopwords[run]; !stop {
				out = append(out, run)
			}
			continue
		}
		if len(r) == 1 {
			out = append(out, run)
			continue
		}
		for i := 0; i+1 < len(r); i++ {
			out = append(out, string(r[i:i+2]))
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with",
		"as", "is", "are", "was", "were", "be", "been", "it", "this", "that", "from",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// cosine assumes normalized vectors of equal length.
func cosine(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
