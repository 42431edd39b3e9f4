package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tastedeck/prefetch-engine/prefetch"
	"github.com/tastedeck/prefetch-engine/prefetch/session"
	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

func newSimulateCmd(settings *viper.Viper) *cobra.Command {
	rc := session.DefaultRunnerConfig()
	var (
		latency     time.Duration
		failureRate float64
		traceLevel  string
		start       string
	)

	c := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine through simulated swipe sessions",
		Long: "Generate synthetic decks and a simulated user, run the prefetch engine " +
			"ahead of every swipe, and print hit rates, spend and waste.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(settings)
			if err != nil {
				return err
			}
			if traceLevel != "" {
				if !trace.IsValidTraceLevel(traceLevel) {
					return fmt.Errorf("invalid --trace %q", traceLevel)
				}
				cfg.TraceLevel = trace.TraceLevel(traceLevel)
			}
			startAt, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			if err := rc.Validate(); err != nil {
				return err
			}

			kv, err := openStore(settings)
			if err != nil {
				return err
			}
			defer kv.Close()

			clock := session.NewClock(startAt)
			rng := session.NewPartitionedRNG(rc.Seed)
			tracker := session.NewTracker(session.WithTrackerClock(clock.Now))
			places := session.NewSimulatedPlaces(rng.ForStream(session.StreamPlaces), latency, failureRate)
			engine, err := prefetch.New(cfg, kv, places, tracker, prefetch.WithClock(clock.Now))
			if err != nil {
				return err
			}
			defer engine.Close()

			runner, err := session.NewRunner(engine, tracker, clock, rc)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"seed":     rc.Seed,
				"sessions": rc.Sessions,
				"store":    settings.GetString(keyStore),
			}).Info("starting simulation")

			rep, err := runner.Run(cmd.Context())
			rep.Print(cmd.OutOrStdout())
			return err
		},
	}

	f := c.Flags()
	f.Int64Var(&rc.Seed, "seed", rc.Seed, "Seed for deck generation and simulated behavior")
	f.IntVar(&rc.Sessions, "sessions", rc.Sessions, "Number of swipe sessions")
	f.IntVar(&rc.Deck.Size, "deck-size", rc.Deck.Size, "Cards per deck")
	f.Float64Var(&rc.Deck.PhotoRate, "photo-rate", rc.Deck.PhotoRate, "Fraction of cards with photos")
	f.Float64Var(&rc.DetailRate, "detail-rate", rc.DetailRate, "Chance a viewed card's details are opened")
	f.Float64Var(&rc.LikeRate, "like-rate", rc.LikeRate, "Chance a viewed card is liked")
	f.Float64Var(&rc.QuitRate, "quit-rate", rc.QuitRate, "Chance the user stops after each card")
	f.DurationVar(&rc.SwipeInterval, "swipe-interval", rc.SwipeInterval, "Mean time between swipes")
	f.StringSliceVar(&rc.Cuisines, "cuisine", nil, "Active cuisine filter (repeatable)")
	f.DurationVar(&latency, "latency", 0, "Simulated places API latency")
	f.Float64Var(&failureRate, "failure-rate", 0, "Simulated places API failure rate")
	f.StringVar(&traceLevel, "trace", "", "Override the config trace level (none, cycles, decisions)")
	f.StringVar(&start, "start", "2026-01-15T18:00:00Z", "Simulated start time (RFC3339)")
	return c
}
