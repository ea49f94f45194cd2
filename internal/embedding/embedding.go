// Package embedding produces fixed-dimension vectors for batches of text
// through one of two interchangeable providers: an in-process ONNX model
// or a remote HTTP service. Callers hold the Provider interface and never
// branch on which variant is active.
package embedding

import "context"

// Provider is the capability both embedding variants satisfy.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
	Ping(ctx context.Context) error
}

// ProviderSuffix returns the collection-name suffix for this provider.
// Collections are dimension-fixed, so a project indexed under one provider
// must never share a collection with the other.
func ProviderSuffix(name string) string {
	if name == "local" {
		return "_local"
	}
	return "_remote"
}
