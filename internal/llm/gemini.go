package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"google.golang.org/genai"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

const (
	// DefaultModel is the default Gemini model for structured assessments.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka).
	DefaultEmbeddingDimensions = int32(768)
)

const entityExtractionPromptSuffix = `

Respond with a single JSON object of the form:
{"cves": [], "threat_actors": [], "malware": [], "vendors": [], "products": [], "sectors": [], "countries": []}
List only entities that appear in the article. Use canonical names.`

const piiPromptTemplate = `Identify personally identifiable information in the text below:
person names, street addresses, dates of birth, and government identifiers.

Respond with a single JSON object of the form:
{"spans": [{"type": "NAME", "begin_offset": 0, "end_offset": 0, "score": 0.0}]}
Offsets are byte offsets into the text exactly as given. Return {"spans": []} when nothing is found.

Text:
---
%s
---`

// GeminiClient implements all five model interfaces against the Gemini API.
type GeminiClient struct {
	modelName      string
	embeddingModel string
	gClient        *genai.Client
}

// NewGeminiClient creates a Gemini-backed model client. The API key comes
// from GEMINI_API_KEY (or gemini.api_key in config), matching how the rest of
// the tooling is configured.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = viper.GetString("gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or gemini.api_key")
	}

	if modelName == "" {
		modelName = viper.GetString("gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}
	embeddingModel := viper.GetString("gemini.embedding_model")
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		modelName:      modelName,
		embeddingModel: embeddingModel,
		gClient:        gClient,
	}, nil
}

// generateContent sends a single-turn prompt and returns the raw response
// text.
func (c *GeminiClient) generateContent(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", core.ErrModelFailure, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response from model", core.ErrModelFailure)
	}
	return text, nil
}

func (c *GeminiClient) AssessRelevance(ctx context.Context, prompt string) (*RelevanceAssessment, error) {
	text, err := c.generateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out RelevanceAssessment
	if err := DecodeResponse(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GeminiClient) ExtractEntities(ctx context.Context, prompt string) (*core.EntityExtraction, error) {
	text, err := c.generateContent(ctx, prompt+entityExtractionPromptSuffix)
	if err != nil {
		return nil, err
	}
	var out core.EntityExtraction
	if err := DecodeResponse(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GeminiClient) Moderate(ctx context.Context, prompt string) (*ModerationAssessment, error) {
	text, err := c.generateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out ModerationAssessment
	if err := DecodeResponse(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GeminiClient) DetectPII(ctx context.Context, text string) ([]PIISpan, error) {
	resp, err := c.generateContent(ctx, fmt.Sprintf(piiPromptTemplate, text))
	if err != nil {
		return nil, err
	}
	var out struct {
		Spans []PIISpan `json:"spans"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return nil, err
	}
	// Drop spans the model hallucinated outside the text.
	spans := out.Spans[:0]
	for _, s := range out.Spans {
		if s.BeginOffset >= 0 && s.EndOffset > s.BeginOffset && s.EndOffset <= len(text) {
			spans = append(spans, s)
		}
	}
	return spans, nil
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float64, error) {
	// Conservative limit for the embedding model's input window.
	if len(text) > 8000 {
		text = text[:8000]
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := DefaultEmbeddingDimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %v", core.ErrModelFailure, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding values returned", core.ErrModelFailure)
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, v := range values {
		embedding[i] = float64(v)
	}
	return embedding, nil
}

var _ Models = (*GeminiClient)(nil)
