// Package main is skyctl, the operator CLI for the automation engine. It
// talks straight to the coordination and durable stores, so it works even
// when no worker is running.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adweave/skytrigger/internal/adapter/ads/platformg"
	"github.com/adweave/skytrigger/internal/adapter/ads/platformm"
	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/adapter/repo/postgres"
	"github.com/adweave/skytrigger/internal/adapter/weather"
	"github.com/adweave/skytrigger/internal/config"
	"github.com/adweave/skytrigger/internal/domain"
	"github.com/adweave/skytrigger/internal/engine"
	"github.com/adweave/skytrigger/internal/service/ratelimiter"
	"github.com/adweave/skytrigger/internal/service/registry"
	"github.com/adweave/skytrigger/internal/service/scheduler"
)

func main() {
	app := kingpin.New("skyctl", "Operator CLI for the weather automation engine.")

	startWorker := app.Command("start-worker", "Run an automation worker in the foreground.")

	stopWorker := app.Command("stop-worker", "Ask a worker to stop by marking it stopping in the registry.")
	stopWorkerID := stopWorker.Arg("worker-id", "Worker id from list-workers.").Required().String()

	app.Command("list-workers", "List registered workers.")
	app.Command("list-rules", "List automation rules in the durable store.")

	scheduleRule := app.Command("schedule-rule", "Schedule the recurring check job for a rule.")
	scheduleRuleID := scheduleRule.Arg("rule", "Rule id.").Required().String()
	scheduleUserID := scheduleRule.Arg("user", "Owning user id.").Required().String()
	scheduleInterval := scheduleRule.Arg("interval", "Check interval in minutes.").Default("60").Int()

	runRule := app.Command("run-rule", "Execute a rule's pipeline once, immediately.")
	runRuleID := runRule.Arg("rule", "Rule id.").Required().String()

	testRule := app.Command("test-rule", "Dry-run a rule: real weather, no platform calls, nothing persisted.")
	testRuleID := testRule.Arg("rule", "Rule id.").Required().String()

	app.Command("list-jobs", "List scheduled and in-flight jobs.")
	app.Command("job-stats", "Show scheduler counters.")
	app.Command("rate-limit-stats", "Show per-service rate-limit window usage.")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	cli := &cliApp{cfg: cfg}
	defer cli.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case startWorker.FullCommand():
		err = cli.startWorker()
	case stopWorker.FullCommand():
		err = cli.stopWorker(ctx, *stopWorkerID)
	case "list-workers":
		err = cli.listWorkers(ctx)
	case "list-rules":
		err = cli.listRules(ctx)
	case scheduleRule.FullCommand():
		err = cli.scheduleRule(ctx, *scheduleRuleID, *scheduleUserID, *scheduleInterval)
	case runRule.FullCommand():
		err = cli.runRule(ctx, *runRuleID, false)
	case testRule.FullCommand():
		err = cli.runRule(ctx, *testRuleID, true)
	case "list-jobs":
		err = cli.listJobs(ctx)
	case "job-stats":
		err = cli.jobStats(ctx)
	case "rate-limit-stats":
		err = cli.rateLimitStats(ctx)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "skyctl:", err)
	os.Exit(1)
}

// cliApp lazily opens store connections so read-only commands touch only the
// stores they need.
type cliApp struct {
	cfg  config.Config
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (c *cliApp) close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}

func (c *cliApp) db(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := postgres.NewPool(ctx, c.cfg.DurableURL)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *cliApp) redis() (*redis.Client, error) {
	if c.rdb != nil {
		return c.rdb, nil
	}
	opts, err := redis.ParseURL(c.cfg.CoordinationURL)
	if err != nil {
		return nil, fmt.Errorf("coordination url: %w", err)
	}
	c.rdb = redis.NewClient(opts)
	return c.rdb, nil
}

func (c *cliApp) scheduler() (*scheduler.Scheduler, error) {
	rdb, err := c.redis()
	if err != nil {
		return nil, err
	}
	return scheduler.New(rdb, c.cfg.ResultTTL), nil
}

func (c *cliApp) buildEngine(ctx context.Context) (*engine.Engine, error) {
	pool, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	rdb, err := c.redis()
	if err != nil {
		return nil, err
	}
	limits, err := ratelimiter.LoadLimitsFile(c.cfg.RateLimitsFile)
	if err != nil {
		return nil, err
	}
	return engine.New(c.cfg, engine.Deps{
		Scheduler: scheduler.New(rdb, c.cfg.ResultTTL),
		Limiter:   ratelimiter.New(rdb, limits, c.cfg.BackoffConfig()),
		Registry:  registry.New(postgres.NewWorkerRepo(pool), c.cfg.WorkerMaxConcurrentJobs),
		Rules:     postgres.NewRuleRepo(pool),
		Execs:     postgres.NewExecutionRepo(pool),
		Accounts:  postgres.NewAccountRepo(pool),
		Weather:   weather.New(c.cfg.WeatherBaseURL, c.cfg.WeatherAPIKey, c.cfg.WeatherTimeout),
		PlatformM: platformm.New(c.cfg.PlatformMBaseURL),
		PlatformG: platformg.New(c.cfg.PlatformGBaseURL),
	}), nil
}

// startWorker runs an engine in the foreground until interrupted. The full
// worker binary adds the events consumer and ops HTTP surface; this is the
// bare loop for ad-hoc operation.
func (c *cliApp) startWorker() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	fmt.Println("worker started, ctrl-c to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopCtx, stopCancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer stopCancel()
	eng.Stop(stopCtx)
	return nil
}

func (c *cliApp) stopWorker(ctx context.Context, workerID string) error {
	pool, err := c.db(ctx)
	if err != nil {
		return err
	}
	if err := postgres.NewWorkerRepo(pool).SetStatus(ctx, workerID, domain.WorkerStopping); err != nil {
		return err
	}
	fmt.Printf("worker %s marked stopping\n", workerID)
	return nil
}

func (c *cliApp) listWorkers(ctx context.Context) error {
	pool, err := c.db(ctx)
	if err != nil {
		return err
	}
	workers, err := postgres.NewWorkerRepo(pool).List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER ID\tSTATUS\tJOBS\tPROCESSED\tFAILED\tLAST HEARTBEAT")
	now := time.Now()
	for _, wk := range workers {
		heartbeat := wk.LastHeartbeat.Format(time.RFC3339)
		if wk.Stale(now, 3*c.cfg.HeartbeatInterval()) {
			heartbeat += " (stale)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			wk.ID, wk.Status, wk.CurrentJobs, wk.MaxConcurrentJobs,
			wk.JobsProcessed, wk.JobsFailed, heartbeat)
	}
	return w.Flush()
}

func (c *cliApp) listRules(ctx context.Context) error {
	pool, err := c.db(ctx)
	if err != nil {
		return err
	}
	rules, err := postgres.NewRuleRepo(pool).List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RULE ID\tUSER\tACTIVE\tCONDITIONS\tTARGETS\tINTERVAL\tLAST CHECKED")
	for _, r := range rules {
		lastChecked := "never"
		if r.LastCheckedAt != nil {
			lastChecked = r.LastCheckedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%dm\t%s\n",
			r.ID, r.UserID, r.IsActive, r.ConditionCount(), len(r.Campaigns),
			r.CheckIntervalMinutes, lastChecked)
	}
	return w.Flush()
}

func (c *cliApp) scheduleRule(ctx context.Context, ruleID, userID string, interval int) error {
	sched, err := c.scheduler()
	if err != nil {
		return err
	}
	if err := sched.ScheduleRuleCheck(ctx, ruleID, userID, interval); err != nil {
		return err
	}
	fmt.Printf("rule %s scheduled every %dm\n", ruleID, interval)
	return nil
}

func (c *cliApp) runRule(ctx context.Context, ruleID string, dryRun bool) error {
	eng, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}
	var rec domain.ExecutionRecord
	if dryRun {
		rec, err = eng.TestRule(ctx, ruleID)
	} else {
		rec, err = eng.RunRuleOnce(ctx, ruleID)
	}
	if err != nil {
		return err
	}
	out, merr := json.MarshalIndent(rec, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))
	return nil
}

func (c *cliApp) listJobs(ctx context.Context) error {
	sched, err := c.scheduler()
	if err != nil {
		return err
	}
	scheduled, err := sched.ListScheduled(ctx, 100)
	if err != nil {
		return err
	}
	processing, err := sched.ListProcessing(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tRULE\tRETRIES\tDUE / STARTED")
	for _, j := range scheduled {
		fmt.Fprintf(w, "%s\tscheduled\t%s\t%d/%d\t%s\n",
			j.ID, j.RuleID(), j.RetryCount, j.MaxRetries,
			time.UnixMilli(j.ScheduledAt).Format(time.RFC3339))
	}
	for _, j := range processing {
		fmt.Fprintf(w, "%s\tprocessing\t%s\t%d/%d\t%s\n",
			j.ID, j.RuleID(), j.RetryCount, j.MaxRetries,
			time.UnixMilli(j.ProcessingStartedAt).Format(time.RFC3339))
	}
	return w.Flush()
}

func (c *cliApp) jobStats(ctx context.Context) error {
	sched, err := c.scheduler()
	if err != nil {
		return err
	}
	stats, err := sched.Stats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEDULED\tPROCESSING\tOVERDUE")
	fmt.Fprintf(w, "%d\t%d\t%d\n", stats.Scheduled, stats.Processing, stats.Overdue)
	return w.Flush()
}

func (c *cliApp) rateLimitStats(ctx context.Context) error {
	rdb, err := c.redis()
	if err != nil {
		return err
	}
	limits, err := ratelimiter.LoadLimitsFile(c.cfg.RateLimitsFile)
	if err != nil {
		return err
	}
	limiter := ratelimiter.New(rdb, limits, c.cfg.BackoffConfig())
	stats := limiter.Stats(ctx)

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tUSED\tLIMIT\tREMAINING\tWINDOW")
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			s.Service, s.Used, s.Limit, s.Remaining,
			(time.Duration(s.WindowMS) * time.Millisecond).String())
	}
	return w.Flush()
}
