// Package tools implements the brand-intelligence tool catalog exposed
// to the model: cache-backed data fetchers over upstream scraping
// actors and analytics aggregations over the document store.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

// Actor IDs of the upstream scrapers.
const (
	actorProfileScraper = "apify~instagram-profile-scraper"
	actorPostScraper    = "apify~instagram-post-scraper"
	actorReelScraper    = "apify~instagram-reel-scraper"
	actorHashtagScraper = "apify~instagram-hashtag-scraper"
)

// ActorRunner is the slice of the actor client the tools consume.
type ActorRunner interface {
	Run(ctx context.Context, actorID string, input map[string]any, limits actors.RunLimits) ([]map[string]any, error)
}

// Deps carries everything the tool handlers need.
type Deps struct {
	Cache     *store.Cache
	Actors    ActorRunner
	Campaigns store.Collection
	Logger    *slog.Logger
}

// RegisterAll registers the full catalog on the dispatcher.
func RegisterAll(registry *agent.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	defs := []agent.ToolDef{
		profileTool(deps),
		userPostsTool(deps),
		userReelsTool(deps),
		topicPostsTool(deps),
		hashtagPostsTool(deps),
		hashtagStatsTool(deps),
		rankInfluencersTool(deps),
		engagementTool(deps),
		registerCampaignPostTool(deps),
		checkPostMetricsTool(deps),
		postSnapshotsTool(deps),
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

var zeroTime time.Time

// cacheMeta annotates a payload with the standard cache fields.
func cacheMeta(payload map[string]any, hit bool, cachedAt time.Time) map[string]any {
	payload["cacheHit"] = hit
	if !cachedAt.IsZero() {
		payload["cachedAt"] = cachedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func getString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func getNumber(doc map[string]any, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
