package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/OldStager01/fleet-autoscaler/internal/events"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider/simulation"
	"github.com/OldStager01/fleet-autoscaler/internal/scaler"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func main() {
	app := &cli.App{
		Name:  "fleet-simulator",
		Usage: "Run group definitions against simulated servers and players",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "groups", Aliases: []string{"g"}, Value: "groups", Usage: "groups directory"},
			&cli.StringFlag{Name: "pattern", Aliases: []string{"p"}, Value: "daily", Usage: "player pattern: steady, daily, weekly, random, gradual_rise, sine_wave"},
			&cli.DurationFlag{Name: "interval", Value: 5 * time.Second, Usage: "automatic check interval"},
			&cli.DurationFlag{Name: "report", Value: 10 * time.Second, Usage: "status report interval"},
			&cli.DurationFlag{Name: "startup-delay", Value: 3 * time.Second, Usage: "simulated boot time"},
			&cli.Float64Flag{Name: "activity", Value: 0.3, Usage: "chance of player activity per heartbeat"},
			&cli.Int64Flag{Name: "seed", Usage: "random seed, 0 picks one"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger.Setup(c.String("log-level"), "development")
	logger.Info("Starting fleet simulator")

	groups, err := config.LoadGroups(c.String("groups"), 30*time.Second)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	if err := config.ValidateGroups(groups); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := simulation.New(simulation.Config{
		StartupDelay:         c.Duration("startup-delay"),
		PlayerActivityChance: c.Float64("activity"),
		Pattern:              c.String("pattern"),
		Seed:                 c.Int64("seed"),
	})

	bus := events.NewEventBus(0)
	eventLogger := events.NewEventLogger(nil, bus.SubscribeAll(), 0)
	eventLogger.Start()

	registry := scaler.NewRegistry(scaler.Config{}, p, events.NewPublisher(bus))
	if err := registry.Load(ctx, groups); err != nil {
		return err
	}
	scheduler := scaler.NewScheduler(registry, c.Duration("interval"), 0)
	if err := scheduler.Start(); err != nil {
		logger.WithError(err).Warn("Some cron jobs could not be scheduled")
	}

	ticker := time.NewTicker(c.Duration("report"))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			printStatuses(c.App.Writer, registry.Statuses())
		}
	}

	logger.Info("Shutting down simulator")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = registry.Shutdown(shutdownCtx)
	eventLogger.Stop()
	bus.Close()
	return err
}

func printStatuses(out io.Writer, statuses []models.GroupStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tSERVERS\tRUNNING\tSTARTING\tPLAYERS\tUTILIZATION\tCONDITION")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d/%d\t%.0f%%\t%s\n",
			s.Group, s.TotalServers, s.Count(models.StatusRunning), s.Count(models.StatusStarting),
			s.OnlinePlayers, s.Capacity, s.Utilization*100, s.Condition,
		)
	}
	w.Flush()
}
