package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// Gemini extracts draw results through the Gemini vision API.
type Gemini struct {
	APIKey  string
	Model   string
	Schemas map[string]config.GameSchema
	Now     func() time.Time
}

// NewGemini fails when the API key is absent so a misconfigured process
// dies at startup instead of burning retries mid-run.
func NewGemini(apiKey, model string, schemas map[string]config.GameSchema) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	return &Gemini{
		APIKey:  apiKey,
		Model:   strings.TrimSpace(model),
		Schemas: schemas,
		Now:     time.Now,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Extract sends the image plus the game's schema-constrained prompt and
// validates the response shape before returning it.
func (g *Gemini) Extract(ctx context.Context, image []byte, game string) (domain.DrawResult, error) {
	if g.APIKey == "" {
		return domain.DrawResult{}, &Failure{Kind: KindProviderError, Game: game, Err: errors.New("gemini api key is empty")}
	}
	schema, ok := g.Schemas[game]
	if !ok {
		return domain.DrawResult{}, &Failure{Kind: KindSchemaMismatch, Game: game, Err: fmt.Errorf("unknown game %q", game)}
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
	if err != nil {
		return domain.DrawResult{}, &Failure{Kind: KindProviderError, Game: game, Err: err}
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(systemPreamble),
			genai.Text("\n" + buildSchemaHint(game, schema)),
		},
	}

	parts := []genai.Part{
		genai.Text(userPrompt(game)),
		&genai.Blob{MIMEType: sniffMIME(image), Data: image},
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return domain.DrawResult{}, &Failure{Kind: KindProviderError, Game: game, Err: err}
	}
	prov := domain.Provenance{
		Provider:    g.Name(),
		Model:       g.Model,
		ExtractedAt: g.now().UTC().Format(time.RFC3339),
	}
	return parseResponse(firstText(resp), game, schema, prov)
}

func (g *Gemini) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func sniffMIME(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	default:
		return "image/png"
	}
}

func ptrFloat32(v float32) *float32 { return &v }
