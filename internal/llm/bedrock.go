package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

const (
	// DefaultBedrockModel is the default Anthropic model id on Bedrock.
	DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	// DefaultBedrockEmbeddingModel is the default Titan embedding model id.
	DefaultBedrockEmbeddingModel = "amazon.titan-embed-text-v2:0"
	bedrockMaxTokens             = 1024
)

// BedrockClient implements the model interfaces over AWS Bedrock, for
// deployments that keep all traffic inside AWS.
type BedrockClient struct {
	runtime        *bedrockruntime.Client
	modelID        string
	embeddingModel string
}

// NewBedrockClient builds a Bedrock-backed model client from the default AWS
// config chain.
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockClient{
		runtime:        bedrockruntime.NewFromConfig(cfg),
		modelID:        modelID,
		embeddingModel: DefaultBedrockEmbeddingModel,
	}, nil
}

// anthropicRequest is the Bedrock anthropic-messages request body.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *BedrockClient) generateContent(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        bedrockMaxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal bedrock request: %w", err)
	}

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("%w: bedrock invoke: %v", core.ErrModelFailure, err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("%w: bedrock response decode: %v", core.ErrModelFailure, err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: empty response from model", core.ErrModelFailure)
}

func (c *BedrockClient) AssessRelevance(ctx context.Context, prompt string) (*RelevanceAssessment, error) {
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

func (c *BedrockClient) ExtractEntities(ctx context.Context, prompt string) (*core.EntityExtraction, error) {
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

func (c *BedrockClient) Moderate(ctx context.Context, prompt string) (*ModerationAssessment, error) {
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

func (c *BedrockClient) DetectPII(ctx context.Context, text string) ([]PIISpan, error) {
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
	spans := out.Spans[:0]
	for _, s := range out.Spans {
		if s.BeginOffset >= 0 && s.EndOffset > s.BeginOffset && s.EndOffset <= len(text) {
			spans = append(spans, s)
		}
	}
	return spans, nil
}

// titanEmbedRequest is the Titan embeddings request body.
type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *BedrockClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if len(text) > 8000 {
		text = text[:8000]
	}
	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: int(DefaultEmbeddingDimensions),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.embeddingModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock embed: %v", core.ErrModelFailure, err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: embed response decode: %v", core.ErrModelFailure, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding values returned", core.ErrModelFailure)
	}
	return resp.Embedding, nil
}

var _ Models = (*BedrockClient)(nil)
