// Package llm abstracts the multimodal inference service.
package llm

import "context"

// Image is one image payload sent alongside a prompt. The label lets the
// model cross-reference each image in its response.
type Image struct {
	Data      []byte
	MediaType string
	Label     string
}

// Client abstracts inference providers for archive analysis.
type Client interface {
	// CompleteWithImages sends all images plus one prompt in a single call
	// and returns the raw text response.
	CompleteWithImages(ctx context.Context, images []Image, prompt string, maxTokens int) (string, error)

	// CompleteWithText sends a text-only prompt and returns the raw text
	// response.
	CompleteWithText(ctx context.Context, prompt string, maxTokens int) (string, error)
}
