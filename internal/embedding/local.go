package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

const localDimensions = 256

// LocalEngine is a deterministic, dependency-free embedder: character
// trigrams hashed into a fixed-size vector. Quality is far below a real
// model but identical inputs always rank identically, which is what the
// approximate project lookup needs when no API engine is configured.
type LocalEngine struct{}

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, localDimensions)
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return vector, nil
	}
	padded := " " + normalized + " "
	for i := 0; i+3 <= len(padded); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(padded[i : i+3]))
		vector[h.Sum32()%localDimensions]++
	}
	return vector, nil
}

func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}
