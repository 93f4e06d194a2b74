package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/pipeline"
)

var daemonServe bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the pipeline on its cron schedules",
	Long: `Runs the full pipeline on schedule.full and a Gold-only refresh on
schedule.refresh (6-field cron expressions with seconds). Runs that would
overlap an in-progress run are skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, initOpts{Sources: true, Publish: true})
		if err != nil {
			return err
		}
		defer env.Close()

		jobs := []cronJob{{
			name: "full",
			spec: cfg.Schedule.Full,
			run: func(ctx context.Context) (*model.Run, error) {
				return env.Orchestrator.RunFull(ctx, pipeline.RunOpts{})
			},
		}}
		if cfg.Schedule.Refresh != "" {
			jobs = append(jobs, cronJob{
				name: "refresh",
				spec: cfg.Schedule.Refresh,
				run: func(ctx context.Context) (*model.Run, error) {
					return env.Orchestrator.RunGoldOnly(ctx, pipeline.RunOpts{})
				},
			})
		}

		c, err := newScheduler(ctx, jobs)
		if err != nil {
			return exitWith(pipeline.ExitConfig, err)
		}

		go newChecker(env).Run(ctx)

		errCh := make(chan error, 1)
		if daemonServe {
			srv := &statusServer{
				ctx:          ctx,
				runs:         env.Runs,
				health:       env.Health,
				metrics:      env.Metrics,
				forecastPath: cfg.Data.ForecastPath(),
				refresh: func(ctx context.Context) (*model.Run, error) {
					return env.Orchestrator.RunGoldOnly(ctx, pipeline.RunOpts{})
				},
			}
			go func() { errCh <- startServer(ctx, srv.routes(), resolvePort(servePort, cfg.Server.Port)) }()
		}

		zap.L().Info("daemon: started", zap.Int("jobs", len(jobs)))
		c.Start()

		select {
		case <-ctx.Done():
		case err = <-errCh:
		}

		zap.L().Info("daemon: stopping scheduler")
		<-c.Stop().Done()
		zap.L().Info("daemon: stopped")
		return err
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonServe, "serve", false, "also start the status server")
	daemonCmd.Flags().IntVar(&servePort, "port", 0, "status server port (default from config)")
	rootCmd.AddCommand(daemonCmd)
}

// cronJob is one scheduled pipeline invocation.
type cronJob struct {
	name string
	spec string
	run  func(ctx context.Context) (*model.Run, error)
}

// newScheduler registers jobs on a seconds-resolution cron. Jobs run under
// ctx and are not started until Start is called.
func newScheduler(ctx context.Context, jobs []cronJob) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, func() { runJob(ctx, job) }); err != nil {
			return nil, eris.Wrapf(err, "daemon: schedule %s (%q)", job.name, job.spec)
		}
		zap.L().Info("daemon: job scheduled",
			zap.String("job", job.name),
			zap.String("schedule", job.spec),
		)
	}
	return c, nil
}

func runJob(ctx context.Context, job cronJob) {
	log := zap.L().With(zap.String("component", "daemon"), zap.String("job", job.name))
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	run, err := job.run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		log.Warn("daemon: skipped, a run is in progress")
	case err != nil:
		log.Error("daemon: run failed",
			zap.Int("exit_code", pipeline.ExitCodeFor(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	default:
		fields := []zap.Field{
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if run.Result != nil {
			fields = append(fields, zap.Int("exit_code", run.Result.ExitCode))
		}
		log.Info("daemon: run complete", fields...)
	}
}
