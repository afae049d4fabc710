package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

// AutoEnrollHook returns a post-tool hook that enrolls every creator a
// successful profile or post fetch touches into the tracked-creators
// collection. Registering it on the dispatcher keeps the side effect
// out of the tools themselves.
func AutoEnrollHook(tracked store.Collection, logger *slog.Logger) agent.SuccessHook {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auto_enroll")

	return func(ctx context.Context, name string, payload map[string]any) {
		var username string
		switch name {
		case "get_profile":
			if profile, ok := payload["profile"].(map[string]any); ok {
				username = getString(profile, "username")
			}
		case "get_user_posts":
			username = getString(payload, "username")
		default:
			return
		}
		if username == "" {
			return
		}

		doc := map[string]any{
			"username":   username,
			"enrolledAt": time.Now(),
			"source":     name,
		}
		if err := tracked.UpsertOne(ctx, map[string]any{"username": username}, doc); err != nil {
			logger.Warn("enrollment failed", "username", username, "error", err)
		}
	}
}
