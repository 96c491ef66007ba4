package imaging

import (
	"context"
	"time"
)

// Image is a generated or edited picture as returned by a provider.
type Image struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
}

type EditRequest struct {
	Image       []byte
	MimeType    string
	Instruction string
	Model       string
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Image, error)
}

type Editor interface {
	Edit(ctx context.Context, req EditRequest) (Image, error)
}
