package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
)

// callThrottle paces tool invocations inside a job so the upstream
// platform never sees a burst.
const callThrottle = 2 * time.Second

// JobDeps wires the background jobs to the dispatcher and the store.
type JobDeps struct {
	Registry  *agent.Registry
	Campaigns store.Collection
	Hashtags  []string
	Logger    *slog.Logger

	// nowFunc and throttle are overridable in tests.
	nowFunc  func() time.Time
	throttle time.Duration
}

func (d *JobDeps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.nowFunc == nil {
		d.nowFunc = time.Now
	}
	if d.throttle == 0 {
		d.throttle = callThrottle
	}
}

// RegisterJobs adds the monitoring and prefetch jobs to the scheduler.
func RegisterJobs(s *Scheduler, deps JobDeps) error {
	deps.defaults()

	if err := s.Add(&Job{
		Name:     "monitor_active_posts",
		Schedule: Schedule{Every: time.Hour},
		Handler:  func(ctx context.Context) { MonitorActivePosts(ctx, deps) },
	}); err != nil {
		return err
	}
	return s.Add(&Job{
		Name:         "prefetch_hashtags",
		Schedule:     Schedule{Every: 6 * time.Hour},
		StartupDelay: 10 * time.Second,
		Handler:      func(ctx context.Context) { PrefetchHashtags(ctx, deps) },
	})
}

// checkInterval maps a post's age since registration to how often its
// metrics should be refreshed.
func checkInterval(age time.Duration) time.Duration {
	switch {
	case age < 24*time.Hour:
		return 2 * time.Hour
	case age < 72*time.Hour:
		return 4 * time.Hour
	case age < 7*24*time.Hour:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// MonitorActivePosts refreshes the metrics of every registered campaign
// post whose per-age check interval has elapsed. Failures log and the
// loop continues.
func MonitorActivePosts(ctx context.Context, deps JobDeps) {
	deps.defaults()
	logger := deps.Logger.With("job", "monitor_active_posts")

	posts, err := deps.Campaigns.Find(ctx,
		map[string]any{"state": map[string]any{"$ne": "deleted"}}, 0, "registeredAt")
	if err != nil {
		logger.Error("loading campaign posts failed", "error", err)
		return
	}

	now := deps.nowFunc()
	checked := 0
	for _, post := range posts {
		if ctx.Err() != nil {
			return
		}
		shortcode, _ := post["shortcode"].(string)
		if shortcode == "" {
			continue
		}

		registeredAt, ok := timeField(post, "registeredAt")
		if !ok {
			continue
		}
		interval := checkInterval(now.Sub(registeredAt))
		if lastChecked, ok := timeField(post, "lastCheckedAt"); ok && now.Sub(lastChecked) < interval {
			continue
		}

		_, info := deps.Registry.Invoke(ctx, "check_post_metrics",
			map[string]any{"shortcode": shortcode}, nil, false)
		if info.Error != "" {
			logger.Warn("post check failed", "shortcode", shortcode, "error", info.Error)
		} else {
			checked++
		}
		sleep(ctx, deps.throttle)
	}
	logger.Info("monitoring pass complete", "candidates", len(posts), "checked", checked)
}

// PrefetchHashtags warms the cache for the configured home hashtags.
func PrefetchHashtags(ctx context.Context, deps JobDeps) {
	deps.defaults()
	logger := deps.Logger.With("job", "prefetch_hashtags")

	for _, hashtag := range deps.Hashtags {
		if ctx.Err() != nil {
			return
		}
		_, info := deps.Registry.Invoke(ctx, "get_hashtag_posts",
			map[string]any{"hashtag": hashtag}, nil, false)
		if info.Error != "" {
			logger.Warn("prefetch failed", "hashtag", hashtag, "error", info.Error)
		}
		sleep(ctx, deps.throttle)
	}
	logger.Info("prefetch pass complete", "hashtags", len(deps.Hashtags))
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func timeField(doc map[string]any, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case bson.DateTime:
		t := v.Time()
		return t, !t.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil && !t.IsZero()
	default:
		return time.Time{}, false
	}
}
