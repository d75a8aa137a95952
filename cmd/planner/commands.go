package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"itinerary-planner/internal/app"
	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/client"
	"itinerary-planner/internal/config"
	"itinerary-planner/internal/logging"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/service"
	"itinerary-planner/internal/worker"
)

// errJobFailed makes the process exit 1 when a followed job ends FAILED.
var errJobFailed = errors.New("job failed")

func envFlag() cli.Flag {
	return &cli.StringFlag{Name: "env", Usage: "env file to load", Value: ".env"}
}

func remoteFlags() []cli.Flag {
	return []cli.Flag{
		envFlag(),
		&cli.StringFlag{Name: "api-url", Usage: "planner API base URL (default PLANNER_API_URL)"},
		&cli.StringFlag{Name: "user", Usage: "user id sent as X-User-ID", Value: "anonymous"},
	}
}

func tripFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "destination", Usage: "where to go"},
		&cli.StringFlag{Name: "start-date", Usage: "first day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "end-date", Usage: "last day, YYYY-MM-DD"},
		&cli.IntFlag{Name: "days", Usage: "trip length when no dates are given"},
		&cli.StringFlag{Name: "preferences", Usage: "free-text interests"},
		&cli.StringFlag{Name: "prompt", Usage: "free-text request; overrides the structured fields"},
		&cli.StringFlag{Name: "request-id", Usage: "idempotency key for the saved itinerary"},
	}
}

func followFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{Name: "interval", Usage: "poll interval (default POLL_INTERVAL)"},
		&cli.DurationFlag{Name: "timeout", Usage: "stop following after this long (default POLL_TIMEOUT)"},
	}
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "planner",
		Usage: "start, follow and inspect itinerary planning jobs",
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "submit a trip to the API and print the job id",
				Flags:  concat(remoteFlags(), tripFlags()),
				Action: startAction,
			},
			{
				Name:      "status",
				Usage:     "print one status snapshot as JSON",
				ArgsUsage: "<job-id>",
				Flags: concat(remoteFlags(), []cli.Flag{
					&cli.StringFlag{Name: "job", Usage: "job id (or pass it as the argument)"},
					&cli.IntFlag{Name: "after", Usage: "skip this many progress entries"},
				}),
				Action: statusAction,
			},
			{
				Name:      "follow",
				Usage:     "poll a job until it finishes",
				ArgsUsage: "<job-id>",
				Flags:     concat(remoteFlags(), followFlags(), []cli.Flag{&cli.StringFlag{Name: "job", Usage: "job id (or pass it as the argument)"}}),
				Action:    followAction,
			},
			{
				Name:   "plan",
				Usage:  "submit a trip to the API and follow it",
				Flags:  concat(remoteFlags(), tripFlags(), followFlags()),
				Action: planAction,
			},
			{
				Name:   "local",
				Usage:  "plan a trip in-process, without an API server",
				Flags:  concat([]cli.Flag{envFlag(), &cli.StringFlag{Name: "user", Value: "anonymous"}}, tripFlags(), followFlags()),
				Action: localAction,
			},
			{
				Name:   "itineraries",
				Usage:  "list a user's saved itineraries",
				Flags:  concat(remoteFlags(), []cli.Flag{&cli.IntFlag{Name: "limit", Value: 10}}),
				Action: itinerariesAction,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log := logging.NewWithWriter(errWriter(cmd), cfg.Env, cfg.LogLevel).With().Str("service", "cli").Logger()
	if v := cmd.Duration("interval"); v > 0 {
		cfg.PollInterval = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.PollTimeout = v
	}
	if v := cmd.String("api-url"); v != "" {
		cfg.APIBaseURL = v
	}
	return cfg, log, nil
}

func remoteClient(cmd *cli.Command, cfg config.Config) *client.Client {
	return client.New(cfg.APIBaseURL, cmd.String("user"), nil)
}

func tripFromFlags(cmd *cli.Command) models.TripRequest {
	return models.TripRequest{
		RequestID:   cmd.String("request-id"),
		Destination: cmd.String("destination"),
		StartDate:   cmd.String("start-date"),
		EndDate:     cmd.String("end-date"),
		Days:        cmd.Int("days"),
		Preferences: cmd.String("preferences"),
		Prompt:      cmd.String("prompt"),
	}
}

func jobArg(cmd *cli.Command) (string, error) {
	if id := cmd.Args().First(); id != "" {
		return id, nil
	}
	if id := cmd.String("job"); id != "" {
		return id, nil
	}
	return "", apperrors.Validation("job", "job id is required")
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jobID, err := remoteClient(cmd, cfg).StartJob(ctx, tripFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintln(writer(cmd), "job:", jobID)
	return nil
}

func planAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c := remoteClient(cmd, cfg)
	jobID, err := c.StartJob(ctx, tripFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintln(writer(cmd), "job:", jobID)
	return follow(ctx, writer(cmd), c, jobID, cfg, log)
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jobID, err := jobArg(cmd)
	if err != nil {
		return err
	}
	view, err := remoteClient(cmd, cfg).GetStatus(ctx, jobID, cmd.Int("after"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(writer(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func followAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jobID, err := jobArg(cmd)
	if err != nil {
		return err
	}
	return follow(ctx, writer(cmd), remoteClient(cmd, cfg), jobID, cfg, log)
}

// localAction runs the whole flow in this process: in-memory pool, configured planner, and the
// same poller the remote commands use.
func localAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Executor = "pool"
	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	pool := worker.NewPool(deps.Runner(), worker.PoolConfig{Workers: 1, BufferSize: 1}, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Close(closeCtx)
	}()
	svc := service.New(deps.Jobs, pool, deps.Itineraries, log)

	job, err := svc.StartJob(ctx, cmd.String("user"), tripFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintln(writer(cmd), "job:", job.ID)
	return follow(ctx, writer(cmd), svc, job.ID, cfg, log)
}

func itinerariesAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	user := cmd.String("user")
	items, err := remoteClient(cmd, cfg).ListItineraries(ctx, user, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintf(writer(cmd), "no itineraries for %s\n", user)
		return nil
	}
	table := tablewriter.NewWriter(writer(cmd))
	table.Header("Itinerary ID", "Destination", "Dates", "Days", "Created")
	for _, it := range items {
		dates := it.StartDate
		if it.EndDate != "" {
			dates += " to " + it.EndDate
		}
		if err := table.Append(it.ItineraryID, it.Destination, dates, fmt.Sprint(len(it.Items)), it.CreatedAt); err != nil {
			return err
		}
	}
	return table.Render()
}

// follow prints progress as it arrives, then the outcome and the agent trace.
func follow(ctx context.Context, w io.Writer, src client.StatusSource, jobID string, cfg config.Config, log zerolog.Logger) error {
	p := &client.Poller{
		Source:        src,
		Interval:      cfg.PollInterval,
		Timeout:       cfg.PollTimeout,
		MaxPollErrors: 5,
		OnProgress: func(e models.ProgressEntry) {
			fmt.Fprintf(w, "%s  %s\n", e.At.Local().Format("15:04:05"), e.Message)
		},
		Log: log,
	}
	res, err := p.Follow(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "status:", res.View.Status)
	switch res.Outcome {
	case client.OutcomeStillRunning:
		fmt.Fprintf(w, "still running after %s; resume with: planner follow --job %s\n", cfg.PollTimeout, jobID)
		return nil
	case client.OutcomeFailed:
		fmt.Fprintln(w, "error:", res.View.Error)
		return errJobFailed
	}

	if r := res.View.Result; r != nil {
		if r.ItineraryID != "" {
			fmt.Fprintln(w, "itinerary:", r.ItineraryID)
		}
		if r.ArchiveURL != "" {
			fmt.Fprintln(w, "archive:", r.ArchiveURL)
		}
		if trace := client.ExtractTrace(r.Message); len(trace) > 0 {
			fmt.Fprintln(w, "\ntrace:")
			fmt.Fprintln(w, "  "+strings.Join(trace, "\n  "))
		}
	}
	return nil
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
