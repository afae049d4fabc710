package tools

import (
	"context"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

type profileArgs struct {
	Username string
}

func profileTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_profile",
		Label:       "Fetching profile",
		Description: "Fetch a creator's profile: follower counts, bio, verification, and post count.",
		Schema: objectSchema(map[string]any{
			"username": stringProp("Instagram username, without the @ prefix"),
		}, "username"),
		Validate: func(args map[string]any) (any, error) {
			username, err := agent.StringArg(args, "username")
			if err != nil {
				return nil, err
			}
			return profileArgs{Username: username}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(profileArgs)

			if doc, ok := deps.Cache.Read(ctx, store.KindProfile, map[string]any{"username": args.Username}); ok {
				cachedAt, _ := store.CachedAt(doc)
				return cacheMeta(map[string]any{"profile": transformProfile(doc)}, true, cachedAt), nil
			}

			items, err := deps.Actors.Run(ctx, actorProfileScraper,
				map[string]any{"usernames": []any{args.Username}},
				actors.RunLimits{MaxItems: 1})
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, agent.NotFoundf("profile %q not found", args.Username)
			}

			doc := items[0]
			doc["username"] = args.Username
			deps.Cache.Write(ctx, store.KindProfile, "username", args.Username, doc)

			return cacheMeta(map[string]any{"profile": transformProfile(doc)}, false, zeroTime), nil
		},
	}
}

// transformProfile shapes a raw scraper item into the fields the model
// needs.
func transformProfile(doc map[string]any) map[string]any {
	return map[string]any{
		"username":       getString(doc, "username"),
		"fullName":       getString(doc, "fullName"),
		"biography":      getString(doc, "biography"),
		"followersCount": getNumber(doc, "followersCount"),
		"followsCount":   getNumber(doc, "followsCount"),
		"postsCount":     getNumber(doc, "postsCount"),
		"verified":       doc["verified"] == true,
		"profilePicUrl":  getString(doc, "profilePicUrl"),
	}
}
