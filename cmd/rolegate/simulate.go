package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/config"
	"github.com/AlexKimmel/RoleGate/internal/obs"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	simRequests   int
	simStep       time.Duration
	simIdentities []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a request loop against the limiter with a simulated clock",
	Long: `Issue --requests rounds of one request per --identity (name:role), advancing
a simulated clock by --step after each round. Nothing sleeps; the outcome is
deterministic for a given config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := config.DefaultRoles()
		logLevel := "info"
		if cmd.Flags().Changed("config") {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			roles = cfg.Roles
			logLevel = cfg.Observability.LogLevel
		}

		targets, err := parseTargets(simIdentities)
		if err != nil {
			return err
		}

		root := config.Root{Roles: roles}
		logger := obs.NewLogger(cmd.OutOrStdout(), logLevel)
		_, err = runSimulation(logger, root.BucketConfigs(), targets, simRequests, simStep)
		return err
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simRequests, "requests", 16, "rounds to run")
	simulateCmd.Flags().DurationVar(&simStep, "step", time.Second, "simulated time between rounds")
	simulateCmd.Flags().StringSliceVar(&simIdentities, "identity", []string{"user123:user", "admin123:admin"}, "identity:role pairs")
	rootCmd.AddCommand(simulateCmd)
}

type target struct {
	identity string
	role     string
}

func parseTargets(specs []string) ([]target, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one --identity is required")
	}
	out := make([]target, 0, len(specs))
	for _, s := range specs {
		id, role, ok := strings.Cut(s, ":")
		if !ok || id == "" || role == "" {
			return nil, fmt.Errorf("invalid --identity %q: want identity:role", s)
		}
		out = append(out, target{identity: id, role: role})
	}
	return out, nil
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// runSimulation returns the results per target, in request order. An unknown
// role is reported per request, not treated as fatal.
func runSimulation(logger zerolog.Logger, roles map[string]ratelimit.BucketConfig, targets []target, rounds int, step time.Duration) (map[string][]ratelimit.Result, error) {
	clk := &manualClock{t: time.Now()}
	lim, err := memory.New(roles, memory.WithClock(clk.Now), memory.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer lim.Close()

	ctx := context.Background()
	results := make(map[string][]ratelimit.Result, len(targets))
	var elapsed time.Duration

	for i := 0; i < rounds; i++ {
		for _, tg := range targets {
			dec, err := lim.Allow(ctx, tg.identity, tg.role)
			var ev *zerolog.Event
			if err != nil {
				ev = logger.Warn().Err(err)
			} else {
				ev = logger.Info()
			}
			ev.Int("request", i+1).
				Str("identity", tg.identity).
				Str("role", tg.role).
				Dur("elapsed", elapsed).
				Int("remaining", dec.Remaining).
				Msg(dec.Result.String())
			results[tg.identity] = append(results[tg.identity], dec.Result)
		}
		clk.Advance(step)
		elapsed += step
	}
	return results, nil
}
