package tools

import (
	"context"
	"math"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

type engagementArgs struct {
	Username string
}

func engagementTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "analyze_engagement",
		Label:       "Scoring engagement",
		Description: "Compute a creator's engagement rate from their cached profile and posts.",
		Schema: objectSchema(map[string]any{
			"username": stringProp("Instagram username"),
		}, "username"),
		Validate: func(args map[string]any) (any, error) {
			username, err := agent.StringArg(args, "username")
			if err != nil {
				return nil, err
			}
			return engagementArgs{Username: username}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(engagementArgs)

			profile, ok := deps.Cache.Read(ctx, store.KindProfile, map[string]any{"username": args.Username})
			if !ok {
				return nil, agent.NotFoundf("no cached profile for %q — fetch it with get_profile first", args.Username)
			}
			followers := getNumber(profile, "followersCount")
			if followers <= 0 {
				return nil, agent.NotFoundf("profile %q has no follower count", args.Username)
			}

			rows, err := deps.Cache.Collection(store.KindPost).Aggregate(ctx, []map[string]any{
				{"$match": map[string]any{"ownerUsername": args.Username}},
				{"$group": map[string]any{
					"_id":         "$ownerUsername",
					"postCount":   map[string]any{"$sum": 1},
					"avgLikes":    map[string]any{"$avg": "$likesCount"},
					"avgComments": map[string]any{"$avg": "$commentsCount"},
				}},
			})
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, agent.NotFoundf("no cached posts for %q — fetch them with get_user_posts first", args.Username)
			}

			row := rows[0]
			avgLikes := getNumber(row, "avgLikes")
			avgComments := getNumber(row, "avgComments")
			rate := (avgLikes + avgComments) / followers * 100

			return map[string]any{
				"username":       args.Username,
				"followersCount": followers,
				"postCount":      getNumber(row, "postCount"),
				"avgLikes":       avgLikes,
				"avgComments":    avgComments,
				"engagementRate": math.Round(rate*100) / 100,
				"rating":         engagementRating(rate),
			}, nil
		},
	}
}

// engagementRating buckets an engagement rate percentage the way brand
// teams talk about it.
func engagementRating(rate float64) string {
	switch {
	case rate >= 6:
		return "excellent"
	case rate >= 3:
		return "good"
	case rate >= 1:
		return "average"
	default:
		return "low"
	}
}
