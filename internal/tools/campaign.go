package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

// Campaign post states.
const (
	CampaignStateActive  = "active"
	CampaignStateDeleted = "deleted"
)

type shortcodeArgs struct {
	Shortcode string
	Limit     int
}

func validateShortcode(args map[string]any) (string, error) {
	return agent.StringArg(args, "shortcode")
}

func registerCampaignPostTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "register_campaign_post",
		Label:       "Registering campaign post",
		Description: "Register a post for ongoing campaign monitoring by its shortcode.",
		Schema: objectSchema(map[string]any{
			"shortcode": stringProp("The post shortcode from its URL"),
		}, "shortcode"),
		Validate: func(args map[string]any) (any, error) {
			shortcode, err := validateShortcode(args)
			if err != nil {
				return nil, err
			}
			return shortcodeArgs{Shortcode: shortcode}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(shortcodeArgs)
			now := time.Now()

			doc := map[string]any{
				"shortcode":     args.Shortcode,
				"state":         CampaignStateActive,
				"registeredAt":  now,
				"lastCheckedAt": time.Time{},
			}
			if err := deps.Campaigns.UpsertOne(ctx, map[string]any{"shortcode": args.Shortcode}, doc); err != nil {
				return nil, err
			}
			return map[string]any{
				"shortcode":    args.Shortcode,
				"state":        CampaignStateActive,
				"registeredAt": now.UTC().Format(time.RFC3339),
			}, nil
		},
	}
}

func checkPostMetricsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "check_post_metrics",
		Label:       "Checking post metrics",
		Description: "Fetch the current metrics of a post and record a snapshot in its history.",
		Schema: objectSchema(map[string]any{
			"shortcode": stringProp("The post shortcode from its URL"),
		}, "shortcode"),
		Validate: func(args map[string]any) (any, error) {
			shortcode, err := validateShortcode(args)
			if err != nil {
				return nil, err
			}
			return shortcodeArgs{Shortcode: shortcode}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(shortcodeArgs)

			items, err := deps.Actors.Run(ctx, actorPostScraper,
				map[string]any{"shortCodes": []any{args.Shortcode}},
				actors.RunLimits{MaxItems: 1})
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, agent.NotFoundf("post %q not found", args.Shortcode)
			}

			now := time.Now()
			post := transformPost(items[0])
			snapshot := map[string]any{
				"shortcode":     args.Shortcode,
				"likesCount":    post["likesCount"],
				"commentsCount": post["commentsCount"],
			}
			if views, ok := post["videoViewCount"]; ok {
				snapshot["videoViewCount"] = views
			}
			// Snapshots are history, not a replaceable cache entry: each
			// check gets its own key.
			snapshotKey := fmt.Sprintf("%s:%d", args.Shortcode, now.Unix())
			deps.Cache.Write(ctx, store.KindSnapshot, "snapshotKey", snapshotKey, snapshot)

			if err := deps.Campaigns.UpdateOne(ctx,
				map[string]any{"shortcode": args.Shortcode},
				map[string]any{"$set": map[string]any{"lastCheckedAt": now}},
			); err != nil && deps.Logger != nil {
				deps.Logger.Warn("updating lastCheckedAt failed", "shortcode", args.Shortcode, "error", err)
			}

			return map[string]any{
				"shortcode": args.Shortcode,
				"metrics":   post,
				"checkedAt": now.UTC().Format(time.RFC3339),
			}, nil
		},
	}
}

func postSnapshotsTool(deps Deps) agent.ToolDef {
	return agent.ToolDef{
		Name:        "get_post_snapshots",
		Label:       "Loading post history",
		Description: "Load the recorded metric snapshots of a monitored post, newest first.",
		Schema: objectSchema(map[string]any{
			"shortcode": stringProp("The post shortcode from its URL"),
			"limit":     intProp("How many snapshots to return (1-100, default 30)"),
		}, "shortcode"),
		Validate: func(args map[string]any) (any, error) {
			shortcode, err := validateShortcode(args)
			if err != nil {
				return nil, err
			}
			limit, err := agent.IntArg(args, "limit", 30, 1, 100)
			if err != nil {
				return nil, err
			}
			return shortcodeArgs{Shortcode: shortcode, Limit: limit}, nil
		},
		Run: func(ctx context.Context, v any) (map[string]any, error) {
			args := v.(shortcodeArgs)

			docs, err := deps.Cache.Collection(store.KindSnapshot).Find(ctx,
				map[string]any{"shortcode": args.Shortcode}, int64(args.Limit), "-cachedAt")
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return nil, agent.NotFoundf("no snapshots recorded for %q", args.Shortcode)
			}

			snapshots := make([]any, 0, len(docs))
			for _, doc := range docs {
				entry := map[string]any{
					"likesCount":    getNumber(doc, "likesCount"),
					"commentsCount": getNumber(doc, "commentsCount"),
				}
				if at, ok := store.CachedAt(doc); ok {
					entry["recordedAt"] = at.UTC().Format(time.RFC3339)
				}
				if views := getNumber(doc, "videoViewCount"); views > 0 {
					entry["videoViewCount"] = views
				}
				snapshots = append(snapshots, entry)
			}
			return map[string]any{
				"shortcode": args.Shortcode,
				"count":     len(snapshots),
				"snapshots": snapshots,
			}, nil
		},
	}
}
