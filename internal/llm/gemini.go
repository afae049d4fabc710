package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// systemPrompt steers the model toward the brand-intelligence domain
// and its tool catalog.
const systemPrompt = `You are a brand intelligence assistant. You answer questions about
creators, posts, hashtags, engagement, and campaign performance. Use the
available tools to fetch data before answering; prefer cached data when
the tools return it. Keep answers concise and grounded in tool results.`

// Gemini implements Client over the Google Gen AI SDK.
type Gemini struct {
	client  *genai.Client
	model   string
	metrics *observability.Metrics
}

// Lazy is the process-wide adapter handle. Construction is deferred to
// the first Stream call, so a missing API key fails the first request
// rather than process boot; the init outcome (client or error) is
// sticky for the process lifetime, and nothing touches the underlying
// client before that first use.
type Lazy struct {
	apiKey  string
	model   string
	metrics *observability.Metrics

	once   sync.Once
	client *Gemini
	err    error
}

// NewLazy captures the immutable provider configuration without
// building a client.
func NewLazy(apiKey, model string, metrics *observability.Metrics) *Lazy {
	return &Lazy{apiKey: apiKey, model: model, metrics: metrics}
}

// Model returns the configured model id.
func (l *Lazy) Model() string {
	return l.model
}

// Stream initializes the adapter on first use and delegates.
func (l *Lazy) Stream(ctx context.Context, history []models.Turn, tools []*genai.FunctionDeclaration) (<-chan Delta, error) {
	client, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.Stream(ctx, history, tools)
}

func (l *Lazy) get(ctx context.Context) (*Gemini, error) {
	l.once.Do(func() {
		if l.apiKey == "" {
			l.err = errors.New("llm: GEMINI_API_KEY is not set")
			return
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  l.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			l.err = err
			return
		}
		l.client = &Gemini{client: client, model: l.model, metrics: l.metrics}
	})
	return l.client, l.err
}

// Model returns the configured model id.
func (g *Gemini) Model() string {
	return g.model
}

// Stream opens a streaming generation. Thought parts are surfaced with
// Thought=true; function calls arrive as discrete parts. The assembled
// final candidate merges consecutive text fragments of the same kind so
// history turns stay compact.
func (g *Gemini) Stream(ctx context.Context, history []models.Turn, tools []*genai.FunctionDeclaration) (<-chan Delta, error) {
	contents := toContents(history)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: tools}}
	}

	out := make(chan Delta)
	go func() {
		defer close(out)

		start := time.Now()
		var assembled []models.Part

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if ctx.Err() != nil {
				g.observe("error", start)
				out <- Delta{Err: ctx.Err()}
				return
			}
			if err != nil {
				g.observe("error", start)
				out <- Delta{Err: err}
				return
			}
			for _, part := range candidateParts(resp) {
				p := fromGenaiPart(part)
				if p == nil {
					continue
				}
				assembled = appendMerged(assembled, *p)
				select {
				case out <- Delta{Part: p}:
				case <-ctx.Done():
					g.observe("error", start)
					out <- Delta{Err: ctx.Err()}
					return
				}
			}
		}

		g.observe("success", start)
		out <- Delta{Final: &Candidate{Parts: assembled}}
	}()

	return out, nil
}

func (g *Gemini) observe(status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.LLMRequests.WithLabelValues(g.model, status).Inc()
	if status == "success" {
		g.metrics.LLMDuration.WithLabelValues(g.model).Observe(time.Since(start).Seconds())
	}
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	return candidate.Content.Parts
}

func fromGenaiPart(part *genai.Part) *models.Part {
	switch {
	case part == nil:
		return nil
	case part.FunctionCall != nil:
		return &models.Part{FunctionCall: &models.FunctionCall{
			Name: part.FunctionCall.Name,
			Args: part.FunctionCall.Args,
		}}
	case part.Text != "":
		return &models.Part{Text: part.Text, Thought: part.Thought}
	default:
		return nil
	}
}

// appendMerged folds a streamed part into the assembled candidate,
// concatenating consecutive text fragments of the same thought-ness.
func appendMerged(parts []models.Part, p models.Part) []models.Part {
	if p.Text != "" && len(parts) > 0 {
		last := &parts[len(parts)-1]
		if last.Text != "" && last.Thought == p.Thought &&
			last.FunctionCall == nil && last.FunctionResponse == nil {
			last.Text += p.Text
			return parts
		}
	}
	return append(parts, p)
}

func toContents(history []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		content := &genai.Content{}
		switch turn.Role {
		case models.RoleModel:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}
		for _, part := range turn.Parts {
			if gp := toGenaiPart(part); gp != nil {
				content.Parts = append(content.Parts, gp)
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

func toGenaiPart(part models.Part) *genai.Part {
	switch {
	case part.FunctionCall != nil:
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			Name: part.FunctionCall.Name,
			Args: part.FunctionCall.Args,
		}}
	case part.FunctionResponse != nil:
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			Name:     part.FunctionResponse.Name,
			Response: part.FunctionResponse.Response,
		}}
	case part.Text != "":
		return &genai.Part{Text: part.Text, Thought: part.Thought}
	default:
		return nil
	}
}
