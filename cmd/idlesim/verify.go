package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/idle-engine/internal/baseline"
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/sim"
	"github.com/signalsfoundry/idle-engine/internal/snapshot"
)

// errNondeterministic means two in-process replays of one run disagreed.
var errNondeterministic = errors.New("nondeterministic replay")

type verifyOptions struct {
	seed     uint32
	land     string
	ward     string
	duration time.Duration
	step     time.Duration
	record   bool
	check    bool
	dbPath   string
}

func newVerifyCmd(flags *globalFlags) *cobra.Command {
	opts := verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay a seeded run and compare its snapshot hash",
		Long: `Run the simulation headless twice with the same seed and step, check
that both replays encode identical snapshot streams, then optionally record
the hash as a baseline or check it against one recorded earlier.

Examples:
  idlesim verify --seed 123 --duration 60s --step 16.67ms
  idlesim verify --seed 123 --duration 60s --step 16.67ms --record
  idlesim verify --seed 123 --duration 60s --step 16.67ms --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, content, log, err := flags.load()
			if err != nil {
				return err
			}
			if opts.dbPath == "" {
				opts.dbPath = cfg.Baseline.Path
			}
			return runVerify(cmd.Context(), cmd.OutOrStdout(), cfg, content, log, opts)
		},
	}
	cmd.Flags().Uint32Var(&opts.seed, "seed", 123, "Master seed")
	cmd.Flags().StringVar(&opts.land, "land", "meadow", "Land to start in")
	cmd.Flags().StringVar(&opts.ward, "ward", "meadow-1", "Ward to start in")
	cmd.Flags().DurationVar(&opts.duration, "duration", 60*time.Second, "Simulated time to run")
	cmd.Flags().DurationVar(&opts.step, "step", 16670*time.Microsecond, "Wall time fed to the clock per iteration")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Store the result as the baseline")
	cmd.Flags().BoolVar(&opts.check, "check", false, "Compare the result with the stored baseline")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Baseline database (overrides [baseline] path)")
	cmd.MarkFlagsMutuallyExclusive("record", "check")
	return cmd
}

func runVerify(ctx context.Context, out io.Writer, cfg *config.Config, content *config.Content, log logging.Logger, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	run := sim.HeadlessRun{
		Seed:     opts.seed,
		Land:     opts.land,
		Ward:     opts.ward,
		Duration: opts.duration,
		Step:     opts.step,
	}

	first, err := sim.RunHeadless(cfg, content, run, sim.WithLogger(log))
	if err != nil {
		return fmt.Errorf("headless run: %w", err)
	}
	second, err := sim.RunHeadless(cfg, content, run, sim.WithLogger(log))
	if err != nil {
		return fmt.Errorf("headless replay: %w", err)
	}
	if first.Hash != second.Hash || !bytes.Equal(first.Encoded, second.Encoded) {
		return fmt.Errorf("%w: hash %s then %s", errNondeterministic,
			snapshot.HashString(first.Hash), snapshot.HashString(second.Hash))
	}

	fmt.Fprintf(out, "seed=%d land=%s ward=%s duration=%v step=%v\n", opts.seed, opts.land, opts.ward, opts.duration, opts.step)
	fmt.Fprintf(out, "steps=%d snapshots=%d kills=%d retreats=%d\n", first.Steps, first.Snapshots, first.Kills, first.Retreats)
	fmt.Fprintf(out, "hash=%s\n", snapshot.HashString(first.Hash))

	if !opts.record && !opts.check {
		return nil
	}

	store, err := baseline.Open(opts.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	key := baseline.Key{
		Seed:     opts.seed,
		Build:    sim.Build,
		Land:     opts.land,
		Ward:     opts.ward,
		Duration: opts.duration,
		Step:     opts.step,
	}

	if opts.record {
		if err := store.Save(ctx, baseline.Baseline{
			Key:       key,
			Snapshots: first.Snapshots,
			Steps:     first.Steps,
			Hash:      first.Hash,
		}); err != nil {
			return err
		}
		fmt.Fprintln(out, "baseline recorded")
		return nil
	}

	want, err := store.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if err := want.Check(first.Snapshots, first.Hash); err != nil {
		log.Error(ctx, "determinism baseline mismatch", logging.Err(err))
		return err
	}
	fmt.Fprintf(out, "baseline matched (recorded %s)\n", want.RecordedAt.Format(time.RFC3339))
	return nil
}
