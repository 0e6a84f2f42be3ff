// Package pipeline is the top-level archiver orchestration: it loads config,
// opens the archive, wires the storage/fetcher/scripting actors together,
// submits the seed URLs and runs the quiescence loop that decides when a
// crawl is done. Grounded on run_archiver in original_source's
// cli/src/archiver/mod.rs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kore-signet/evergarden/internal/pkg/actor"
	"github.com/kore-signet/evergarden/internal/pkg/archive"
	"github.com/kore-signet/evergarden/internal/pkg/config"
	"github.com/kore-signet/evergarden/internal/pkg/fetcher"
	"github.com/kore-signet/evergarden/internal/pkg/log"
	"github.com/kore-signet/evergarden/internal/pkg/model"
	"github.com/kore-signet/evergarden/internal/pkg/opsapi"
	"github.com/kore-signet/evergarden/internal/pkg/ratelimit"
	"github.com/kore-signet/evergarden/internal/pkg/scripting"
	"github.com/kore-signet/evergarden/internal/pkg/stats"
	"github.com/kore-signet/evergarden/internal/pkg/surt"
)

// Options configures one archiver run.
type Options struct {
	ConfigPath string
	OutputDir  string
	NoClobber  bool
	SeedURLs   []string

	Job     string
	OpsAddr string // empty disables the ops HTTP server
	Live    bool   // print the live stats table to stdout
}

var logger = log.NewFieldedLogger(&log.Fields{"component": "pipeline"})

const (
	httpMailboxCapacity    = 10_000
	scriptMailboxCapacity  = 256
	storageMailboxCapacity = 256
	quiescenceTick         = 200 * time.Millisecond
)

// Run executes one full archiver crawl: it blocks until every submitted seed
// and every URL discovered while crawling has been answered, then shuts down
// every actor and closes the archive.
func Run(ctx context.Context, opts Options) error {
	if err := log.Start(); err != nil {
		return fmt.Errorf("pipeline: starting logger: %w", err)
	}
	defer log.Stop()

	if err := stats.Init(); err != nil {
		return fmt.Errorf("pipeline: initializing stats: %w", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("pipeline: loading config: %w", err)
	}

	store, err := archive.Open(opts.OutputDir, !opts.NoClobber)
	if err != nil {
		return fmt.Errorf("pipeline: opening archive: %w", err)
	}
	defer store.Close()

	seeds := make([]*model.UrlInfo, 0, len(opts.SeedURLs))
	for _, raw := range opts.SeedURLs {
		u, err := model.Seed(raw)
		if err != nil {
			logger.Warn("skipping invalid seed url", "url", raw, "err", err.Error())
			continue
		}
		seeds = append(seeds, u)
	}

	entryPoints := make([]string, 0, len(seeds))
	for _, u := range seeds {
		entryPoints = append(entryPoints, surt.Canonicalize(u.URL))
	}
	sort.Strings(entryPoints)

	encodedConfig, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("pipeline: serializing config: %w", err)
	}
	if err := store.WriteInfo(&model.CrawlInfo{Config: string(encodedConfig), EntryPoints: entryPoints}); err != nil {
		return fmt.Errorf("pipeline: writing crawl info: %w", err)
	}

	// Seeds are always deleted before the crawl starts, even with
	// --no-clobber, so re-crawling a job always refetches its entry points.
	for _, key := range entryPoints {
		if err := store.Delete(key); err != nil {
			return fmt.Errorf("pipeline: deleting seed %q: %w", key, err)
		}
	}

	counter := actor.NewTaskCounter()

	storageManager, storageMailbox := actor.NewActorManager[model.StorageRequest, model.StorageReply](storageMailboxCapacity, counter)
	httpManager, httpMailbox := actor.NewActorManager[*model.UrlInfo, model.FetchResult](httpMailboxCapacity, counter)
	scriptManager, scriptMailbox := actor.NewActorManager[*model.HttpResponse, error](scriptMailboxCapacity, counter)

	// The fetch actor itself holds no per-request mutable state (the shared
	// rate limiter and http.Client are both safe for concurrent use), so
	// several goroutines share one Mailbox to get real fetch concurrency
	// instead of serializing every request through a single actor loop.
	workers := cfg.RateLimiter.MaxTasksPerWorker
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		storageManager.SpawnActor(archive.NewStorageActor(store))
	}

	limiter := buildLimiter(cfg.RateLimiter)

	client, err := fetcher.New(cfg.HTTP, limiter, storageMailbox, scriptMailbox, httpMailbox, cfg.General.MaxHops)
	if err != nil {
		return fmt.Errorf("pipeline: building http client: %w", err)
	}
	for i := 0; i < workers; i++ {
		httpManager.SpawnActor(client)
		stats.FetcherRoutinesIncr()
	}

	scripts, err := scripting.NewManager(cfg.Scripts, httpMailbox, cfg.General.MaxHops)
	if err != nil {
		httpManager.CloseAndJoin()
		storageManager.CloseAndJoin()
		return fmt.Errorf("pipeline: starting scripts: %w", err)
	}
	scriptManager.SpawnActor(scripts)
	stats.ScriptRoutinesIncr()

	var ops *opsapi.Server
	if opts.OpsAddr != "" {
		ops = opsapi.New(opts.OpsAddr, opts.Job)
		go ops.ListenAndServe()
	}

	var stopLive chan struct{}
	if opts.Live {
		stopLive = make(chan struct{})
		go stats.PrintLive(opts.Job, stopLive)
	}

	submitterDone := make(chan struct{})
	go func() {
		defer close(submitterDone)
		submitSeeds(ctx, httpMailbox, seeds)
	}()

	waitForQuiescence(submitterDone, counter)

	scriptManager.CloseAndJoin()
	stats.ScriptRoutinesDecr()
	httpManager.CloseAndJoin()
	for i := 0; i < workers; i++ {
		stats.FetcherRoutinesDecr()
	}
	storageManager.CloseAndJoin()

	if stopLive != nil {
		close(stopLive)
	}
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ops.Shutdown(shutdownCtx)
	}

	logger.Info("crawl finished", "urls_fetched", stats.GetURLsFetched(), "urls_failed", stats.GetURLsFailed())
	return nil
}

func buildLimiter(cfg config.RateLimitingConfig) *ratelimit.Limiter {
	var period ratelimit.Period
	switch cfg.Per {
	case config.PerMinute:
		period = ratelimit.PerMinute
	case config.PerHour:
		period = ratelimit.PerHour
	default:
		period = ratelimit.PerSecond
	}

	return ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.MaxTasksPerWorker,
		Requests:      cfg.N,
		Period:        period,
		Jitter:        cfg.Jitter.Duration(),
	})
}

// submitSeeds fires a fetch request per seed and waits for every one to be
// answered, mirroring the original's FuturesUnordered submitter task. The
// fetch actor itself accounts for each result in stats; this only waits.
func submitSeeds(ctx context.Context, client fetcher.Mailbox, seeds []*model.UrlInfo) {
	replies := make([]<-chan model.FetchResult, 0, len(seeds))
	for _, u := range seeds {
		replies = append(replies, client.DeferredRequest(ctx, u))
	}
	for _, r := range replies {
		<-r
	}
}

// waitForQuiescence blocks until the submitter has finished handing off every
// seed and the shared in-flight counter has returned to zero, polling on the
// same cadence as the original's 200ms ticker.
func waitForQuiescence(submitterDone <-chan struct{}, counter *actor.TaskCounter) {
	ticker := time.NewTicker(quiescenceTick)
	defer ticker.Stop()

	done := false
	for {
		<-ticker.C
		select {
		case <-submitterDone:
			done = true
		default:
		}
		if done && counter.Load() == 0 {
			return
		}
	}
}
