package tools

import (
	"context"
	"strings"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

type userContentArgs struct {
	Username string
	Limit    int
}

func userPostsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_user_posts",
		Label:       "Fetching recent posts",
		Description: "Fetch a creator's recent posts with like and comment counts.",
		Schema: objectSchema(map[string]any{
			"username": stringProp("Instagram username"),
			"limit":    intProp("How many posts to fetch (1-50, default 12)"),
		}, "username"),
		Validate: validateUserContent,
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(userContentArgs)
			return fetchUserContent(ctx, deps, store.KindPost, actorPostScraper, "posts", args)
		},
	}
}

func userReelsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_user_reels",
		Label:       "Fetching reels",
		Description: "Fetch a creator's recent reels with view, like, and comment counts.",
		Schema: objectSchema(map[string]any{
			"username": stringProp("Instagram username"),
			"limit":    intProp("How many reels to fetch (1-50, default 12)"),
		}, "username"),
		Validate: validateUserContent,
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(userContentArgs)
			return fetchUserContent(ctx, deps, store.KindReel, actorReelScraper, "reels", args)
		},
	}
}

func validateUserContent(args map[string]any) (any, error) {
	username, err := agent.StringArg(args, "username")
	if err != nil {
		return nil, err
	}
	limit, err := agent.IntArg(args, "limit", 12, 1, 50)
	if err != nil {
		return nil, err
	}
	return userContentArgs{Username: username, Limit: limit}, nil
}

// fetchUserContent is the shared cache-first path for posts and reels.
// The fingerprint is the owner username; freshness is per cache kind.
func fetchUserContent(ctx context.Context, deps Deps, kind store.Kind, actorID, field string, args userContentArgs) (map[string]any, error) {
	filter := map[string]any{"ownerUsername": args.Username}

	if docs, ok := deps.Cache.ReadMany(ctx, kind, filter, int64(args.Limit)); ok {
		cachedAt, _ := store.CachedAt(docs[0])
		payload := map[string]any{
			"username":     args.Username,
			field:          transformPosts(docs),
			"totalFetched": len(docs),
		}
		return cacheMeta(payload, true, cachedAt), nil
	}

	items, err := deps.Actors.Run(ctx, actorID,
		map[string]any{"username": []any{args.Username}, "resultsLimit": args.Limit},
		actors.RunLimits{MaxItems: args.Limit})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, agent.NotFoundf("no %s found for %q", field, args.Username)
	}

	for _, item := range items {
		item["ownerUsername"] = args.Username
	}
	deps.Cache.WriteMany(ctx, kind, "shortCode", items)

	payload := map[string]any{
		"username":     args.Username,
		field:          transformPosts(items),
		"totalFetched": len(items),
	}
	return cacheMeta(payload, false, zeroTime), nil
}

func transformPosts(docs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, transformPost(doc))
	}
	return out
}

func transformPost(doc map[string]any) map[string]any {
	post := map[string]any{
		"shortCode":     getString(doc, "shortCode"),
		"caption":       getString(doc, "caption"),
		"likesCount":    getNumber(doc, "likesCount"),
		"commentsCount": getNumber(doc, "commentsCount"),
		"timestamp":     getString(doc, "timestamp"),
		"url":           getString(doc, "url"),
		"type":          getString(doc, "type"),
	}
	if views := getNumber(doc, "videoViewCount"); views > 0 {
		post["videoViewCount"] = views
	}
	return post
}

type topicPostsArgs struct {
	Username string
	Topic    string
}

func topicPostsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "check_user_topic_posts",
		Label:       "Scanning creator content",
		Description: "Scan a creator's recent posts for mentions of a topic and return the matches.",
		Schema: objectSchema(map[string]any{
			"username": stringProp("Instagram username"),
			"topic":    stringProp("Topic or keyword to look for in captions"),
		}, "username", "topic"),
		Validate: func(args map[string]any) (any, error) {
			username, err := agent.StringArg(args, "username")
			if err != nil {
				return nil, err
			}
			topic, err := agent.StringArg(args, "topic")
			if err != nil {
				return nil, err
			}
			return topicPostsArgs{Username: username, Topic: topic}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(topicPostsArgs)

			content, err := fetchUserContent(ctx, deps, store.KindPost, actorPostScraper, "posts",
				userContentArgs{Username: args.Username, Limit: 30})
			if err != nil {
				return nil, err
			}

			posts, _ := content["posts"].([]map[string]any)
			needle := strings.ToLower(args.Topic)
			var results []map[string]any
			for _, post := range posts {
				if strings.Contains(strings.ToLower(getString(post, "caption")), needle) {
					results = append(results, post)
				}
			}

			payload := map[string]any{
				"username": args.Username,
				"topic":    args.Topic,
				"scanned":  len(posts),
				"matches":  len(results),
				"results":  anySlice(results),
			}
			if hit, ok := content["cacheHit"].(bool); ok {
				payload["cacheHit"] = hit
			}
			if at, ok := content["cachedAt"].(string); ok {
				payload["cachedAt"] = at
			}
			return payload, nil
		},
	}
}

func anySlice(docs []map[string]any) []any {
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out
}
