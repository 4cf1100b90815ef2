package embedding

import (
	"context"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "empty", a: nil, b: nil, want: 0},
		{name: "dimension mismatch", a: []float32{1, 2}, b: []float32{1, 2, 3}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalEngineDeterministic(t *testing.T) {
	engine := NewLocalEngine()
	ctx := context.Background()

	first, err := engine.Embed(ctx, "Atlas Mapper service")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	second, err := engine.Embed(ctx, "atlas  mapper   SERVICE")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if Cosine(first, second) < 0.999 {
		t.Errorf("case and whitespace should not change the vector, similarity = %v", Cosine(first, second))
	}
}

func TestLocalEngineRanksRelatedTextHigher(t *testing.T) {
	engine := NewLocalEngine()
	ctx := context.Background()

	query, _ := engine.Embed(ctx, "atlas mapper")
	related, _ := engine.Embed(ctx, "atlas-mapper geo tile renderer")
	unrelated, _ := engine.Embed(ctx, "billing invoice exporter")

	if Cosine(query, related) <= Cosine(query, unrelated) {
		t.Errorf("related text should rank higher: related=%v unrelated=%v",
			Cosine(query, related), Cosine(query, unrelated))
	}
}

func TestLocalEngineEmptyInput(t *testing.T) {
	engine := NewLocalEngine()
	vector, err := engine.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vector) != localDimensions {
		t.Errorf("expected %d dimensions, got %d", localDimensions, len(vector))
	}
	for i, v := range vector {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v at index %d", v, i)
		}
	}
}

func TestLocalEngineEmbedBatch(t *testing.T) {
	engine := NewLocalEngine()
	ctx := context.Background()

	vectors, err := engine.EmbedBatch(ctx, []string{"one", "two", "one"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	if Cosine(vectors[0], vectors[2]) < 0.999 {
		t.Errorf("identical inputs should embed identically")
	}
	if Cosine(vectors[0], vectors[1]) > 0.999 {
		t.Errorf("different inputs should not embed identically")
	}
}
