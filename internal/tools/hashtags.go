package tools

import (
	"context"
	"strings"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

type hashtagArgs struct {
	Hashtag string
	Limit   int
}

func normalizeHashtag(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
}

func validateHashtag(args map[string]any, defLimit, maxLimit int) (hashtagArgs, error) {
	hashtag, err := agent.StringArg(args, "hashtag")
	if err != nil {
		return hashtagArgs{}, err
	}
	limit, err := agent.IntArg(args, "limit", defLimit, 1, maxLimit)
	if err != nil {
		return hashtagArgs{}, err
	}
	return hashtagArgs{Hashtag: normalizeHashtag(hashtag), Limit: limit}, nil
}

func hashtagPostsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_hashtag_posts",
		Label:       "Fetching hashtag posts",
		Description: "Fetch recent top posts for a hashtag.",
		Schema: objectSchema(map[string]any{
			"hashtag": stringProp("Hashtag, with or without the # prefix"),
			"limit":   intProp("How many posts to fetch (1-100, default 30)"),
		}, "hashtag"),
		Validate: func(args map[string]any) (any, error) {
			return validateHashtag(args, 30, 100)
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(hashtagArgs)
			filter := map[string]any{"hashtag": args.Hashtag}

			if docs, ok := deps.Cache.ReadMany(ctx, store.KindHashtagPost, filter, int64(args.Limit)); ok {
				cachedAt, _ := store.CachedAt(docs[0])
				payload := map[string]any{
					"hashtag":      args.Hashtag,
					"posts":        transformPosts(docs),
					"totalFetched": len(docs),
				}
				return cacheMeta(payload, true, cachedAt), nil
			}

			items, err := deps.Actors.Run(ctx, actorHashtagScraper,
				map[string]any{"hashtags": []any{args.Hashtag}, "resultsLimit": args.Limit},
				actors.RunLimits{MaxItems: args.Limit})
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, agent.NotFoundf("no posts found for #%s", args.Hashtag)
			}

			for _, item := range items {
				item["hashtag"] = args.Hashtag
			}
			deps.Cache.WriteMany(ctx, store.KindHashtagPost, "shortCode", items)

			payload := map[string]any{
				"hashtag":      args.Hashtag,
				"posts":        transformPosts(items),
				"totalFetched": len(items),
			}
			return cacheMeta(payload, false, zeroTime), nil
		},
	}
}

func hashtagStatsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_hashtag_stats",
		Label:       "Analysing hashtag",
		Description: "Aggregate engagement statistics over the cached posts of a hashtag.",
		Schema: objectSchema(map[string]any{
			"hashtag": stringProp("Hashtag, with or without the # prefix"),
		}, "hashtag"),
		Validate: func(args map[string]any) (any, error) {
			hashtag, err := agent.StringArg(args, "hashtag")
			if err != nil {
				return nil, err
			}
			return hashtagArgs{Hashtag: normalizeHashtag(hashtag)}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(hashtagArgs)

			if doc, ok := deps.Cache.Read(ctx, store.KindHashtagMeta, map[string]any{"hashtag": args.Hashtag}); ok {
				cachedAt, _ := store.CachedAt(doc)
				return cacheMeta(map[string]any{"stats": statsView(doc)}, true, cachedAt), nil
			}

			rows, err := deps.Cache.Collection(store.KindHashtagPost).Aggregate(ctx, []map[string]any{
				{"$match": map[string]any{"hashtag": args.Hashtag}},
				{"$group": map[string]any{
					"_id":         "$hashtag",
					"postCount":   map[string]any{"$sum": 1},
					"avgLikes":    map[string]any{"$avg": "$likesCount"},
					"avgComments": map[string]any{"$avg": "$commentsCount"},
					"maxLikes":    map[string]any{"$max": "$likesCount"},
					"creators":    map[string]any{"$addToSet": "$ownerUsername"},
				}},
			})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, agent.NotFoundf("no cached posts for #%s — fetch them with get_hashtag_posts first", args.Hashtag)
			}

			row := rows[0]
			stats := map[string]any{
				"hashtag":      args.Hashtag,
				"postCount":    getNumber(row, "postCount"),
				"avgLikes":     getNumber(row, "avgLikes"),
				"avgComments":  getNumber(row, "avgComments"),
				"maxLikes":     getNumber(row, "maxLikes"),
				"creatorCount": creatorCount(row),
			}
			deps.Cache.Write(ctx, store.KindHashtagMeta, "hashtag", args.Hashtag, stats)

			return cacheMeta(map[string]any{"stats": statsView(stats)}, false, zeroTime), nil
		},
	}
}

func rankInfluencersTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "rank_influencers",
		Label:       "Ranking influencers",
		Description: "Rank the creators posting under a hashtag by engagement across their cached posts.",
		Schema: objectSchema(map[string]any{
			"hashtag": stringProp("Hashtag, with or without the # prefix"),
			"limit":   intProp("How many creators to return (1-25, default 10)"),
		}, "hashtag"),
		Validate: func(args map[string]any) (any, error) {
			return validateHashtag(args, 10, 25)
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(hashtagArgs)

			rows, err := deps.Cache.Collection(store.KindHashtagPost).Aggregate(ctx, []map[string]any{
				{"$match": map[string]any{"hashtag": args.Hashtag}},
				{"$group": map[string]any{
					"_id":         "$ownerUsername",
					"posts":       map[string]any{"$sum": 1},
					"avgLikes":    map[string]any{"$avg": "$likesCount"},
					"avgComments": map[string]any{"$avg": "$commentsCount"},
				}},
				{"$addFields": map[string]any{
					"score": map[string]any{"$add": []any{
						"$avgLikes",
						map[string]any{"$multiply": []any{"$avgComments", 5}},
					}},
				}},
				{"$sort": map[string]any{"score": -1}},
				{"$limit": args.Limit},
			})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, agent.NotFoundf("no cached posts for #%s — fetch them with get_hashtag_posts first", args.Hashtag)
			}

			ranked := make([]any, 0, len(rows))
			for _, row := range rows {
				ranked = append(ranked, map[string]any{
					"username":    row["_id"],
					"posts":       getNumber(row, "posts"),
					"avgLikes":    getNumber(row, "avgLikes"),
					"avgComments": getNumber(row, "avgComments"),
					"score":       getNumber(row, "score"),
				})
			}
			return map[string]any{
				"hashtag": args.Hashtag,
				"results": ranked,
			}, nil
		},
	}
}

func statsView(doc map[string]any) map[string]any {
	return map[string]any{
		"hashtag":      getString(doc, "hashtag"),
		"postCount":    getNumber(doc, "postCount"),
		"avgLikes":     getNumber(doc, "avgLikes"),
		"avgComments":  getNumber(doc, "avgComments"),
		"maxLikes":     getNumber(doc, "maxLikes"),
		"creatorCount": getNumber(doc, "creatorCount"),
	}
}

func creatorCount(row map[string]any) int {
	switch v := row["creators"].(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	default:
		return 0
	}
}
