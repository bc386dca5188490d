package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/phasegate/internal/audit"
	httpapi "github.com/sawpanic/phasegate/internal/interfaces/http"
	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/progression"
	"github.com/sawpanic/phasegate/internal/validators"
)

func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// emit prints v as JSON under --json, otherwise calls text.
func (c *cli) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// targetPhase parses args[0] or defaults to the phase after current.
func targetPhase(args []string, current phase.Phase) (phase.Phase, error) {
	if len(args) > 0 {
		p, err := phase.Parse(args[0])
		if err != nil {
			return 0, usageError{err}
		}
		return p, nil
	}
	next, ok := current.Next()
	if !ok {
		return 0, usageError{fmt.Errorf("already at the top phase %s; name a target explicitly", current.Token())}
	}
	return next, nil
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current phase, trade window and last transition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.manager.Status(ctx)
				if err != nil {
					return err
				}
				return c.emit(cmd, st, func(w io.Writer) { printStatus(w, st) })
			})
		},
	}
}

func printStatus(w io.Writer, st progression.Status) {
	fmt.Fprintf(w, "Phase:              %s (%s)\n", st.CurrentPhase.Token(), st.CurrentPhase)
	if st.NextPhase != nil {
		fmt.Fprintf(w, "Next phase:         %s\n", st.NextPhase.Token())
	} else {
		fmt.Fprintln(w, "Next phase:         none (top phase)")
	}

	if st.DailyTradeLimit != nil {
		fmt.Fprintf(w, "Trades today:       %d of %d\n", st.TradesToday, *st.DailyTradeLimit)
	} else {
		fmt.Fprintf(w, "Trades today:       %d (unlimited)\n", st.TradesToday)
	}
	if st.NextAllowedTrade != nil {
		fmt.Fprintf(w, "Next allowed trade: %s\n", st.NextAllowedTrade.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Next allowed trade: now")
	}

	if t := st.LastTransition; t != nil {
		kind := "validated"
		if t.Forced {
			kind = "forced"
		}
		fmt.Fprintf(w, "Last transition:    %s -> %s at %s (%s, %s)\n",
			t.FromPhase.Token(), t.ToPhase.Token(), t.Timestamp.Format(time.RFC3339), kind, t.TransitionID)
	} else {
		fmt.Fprintln(w, "Last transition:    none")
	}

	if st.RecoveryRequired || st.PendingIntent != nil {
		fmt.Fprintln(w, "Recovery required:  yes (run `phasegate recover`)")
	}
}

func (c *cli) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [phase]",
		Short: "Check current metrics against a phase's gate without advancing",
		Long:  "Exits 3 when the criteria are not met. Defaults to the next phase.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				target, err := targetPhase(args, a.manager.CurrentPhase())
				if err != nil {
					return err
				}
				result, err := a.manager.ValidateTransition(ctx, target)
				if err != nil {
					return err
				}
				if err := c.emit(cmd, result, func(w io.Writer) { printValidation(w, result) }); err != nil {
					return err
				}
				if !result.CanAdvance() {
					return fmt.Errorf("%w: %w", errQuiet, progression.ErrCriteriaNotMet)
				}
				return nil
			})
		},
	}
}

func printValidation(w io.Writer, result validators.ValidationResult) {
	verdict := "criteria met"
	if !result.CanAdvance() {
		verdict = "criteria NOT met"
	}
	fmt.Fprintf(w, "Gate for %s: %s\n", result.Target().Token(), verdict)

	met := result.CriteriaMet()
	summary := result.MetricsSummary()
	names := make([]string, 0, len(met))
	for name := range met {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mark := "ok  "
		if !met[name] {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %-16s %s\n", mark, name, summary[name])
	}
	for _, missing := range result.MissingRequirements() {
		fmt.Fprintf(w, "  missing: %s\n", missing)
	}
}

func (c *cli) advanceCommand() *cobra.Command {
	var (
		force       bool
		passwordEnv string
	)

	cmd := &cobra.Command{
		Use:   "advance [phase]",
		Short: "Advance to the next phase, or force any phase with the override password",
		Long: `Without --force the target must be the next phase and its gate must pass.
With --force the override password is read from --password-env, a terminal
prompt, or the first line of stdin. Every forced attempt is audited.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				target, err := targetPhase(args, a.manager.CurrentPhase())
				if err != nil {
					return err
				}

				opts := progression.AdvanceOptions{Force: force}
				if force {
					if opts.Password, err = readPassword(cmd, passwordEnv); err != nil {
						return err
					}
				}

				record, err := a.manager.AdvancePhase(ctx, target, opts)
				var auditErr *progression.OverrideAuditError
				if err != nil && !errors.As(err, &auditErr) {
					var notMet *progression.CriteriaNotMetError
					if errors.As(err, &notMet) && !c.jsonOut {
						printValidation(cmd.ErrOrStderr(), notMet.Result)
					}
					return err
				}

				if emitErr := c.emit(cmd, record, func(w io.Writer) {
					fmt.Fprintf(w, "Advanced %s -> %s (%s)\n", record.FromPhase.Token(), record.ToPhase.Token(), record.TransitionID)
				}); emitErr != nil {
					return emitErr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Bypass validation and ordering with the override password")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "Read the override password from this environment variable")
	return cmd
}

func (c *cli) limitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Daily trade limit operations",
	}

	var checkDate, nextDate, resetDate dateValue

	check := &cobra.Command{
		Use:   "check",
		Short: "Consume one trade for the date under the current phase (exits 5 when limited)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				date := checkDate.Or(time.Now())
				if err := a.manager.CheckTrade(date); err != nil {
					return err
				}
				if err := a.saveCounters(ctx); err != nil {
					return err
				}
				used := a.limiter.Count(date)
				return c.emit(cmd, map[string]any{"allowed": true, "trades_used": used}, func(w io.Writer) {
					fmt.Fprintf(w, "Trade allowed (%d used on %s)\n", used, limiter.Day(date).Format(limiter.DateLayout))
				})
			})
		},
	}
	addDateFlag(check.Flags(), &checkDate)

	next := &cobra.Command{
		Use:   "next",
		Short: "Show when the current phase may trade next, without consuming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				next := a.manager.NextAllowedTrade(nextDate.Or(time.Now()))
				return c.emit(cmd, map[string]any{"next_allowed": next}, func(w io.Writer) {
					if next == nil {
						fmt.Fprintln(w, "Trade allowed now")
						return
					}
					fmt.Fprintf(w, "Next allowed trade: %s\n", next.Format(time.RFC3339))
				})
			})
		},
	}
	addDateFlag(next.Flags(), &nextDate)

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Purge trade counters for dates before --date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				purged := a.limiter.ResetDailyCounter(resetDate.Or(time.Now()))
				if err := a.saveCounters(ctx); err != nil {
					return err
				}
				return c.emit(cmd, map[string]any{"purged": purged}, func(w io.Writer) {
					fmt.Fprintf(w, "Purged %d counter entries\n", purged)
				})
			})
		},
	}
	addDateFlag(reset.Flags(), &resetDate)

	cmd.AddCommand(check, next, reset)
	return cmd
}

func (c *cli) recoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Reconcile the config store and history log after an interrupted advance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Recovery must run explicitly here, not as a side effect of startup.
			c.cfg.State.RecoverOnStart = false
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.manager.Recover(ctx)
				if err != nil {
					return err
				}
				return c.emit(cmd, res, func(w io.Writer) {
					if res.Intent == nil {
						fmt.Fprintln(w, "Nothing to recover")
						return
					}
					fmt.Fprintf(w, "Transition %s (%s -> %s): %s; phase is now %s\n",
						res.Intent.TransitionID, res.Intent.From.Token(), res.Intent.To.Token(),
						res.Action, a.manager.CurrentPhase().Token())
				})
			})
		},
	}
}

func (c *cli) historyCommand() *cobra.Command {
	var (
		overrides bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded transitions or override attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if overrides {
					entries, err := a.override.Entries(ctx)
					if err != nil {
						return err
					}
					entries = tail(entries, limit)
					return c.emit(cmd, entries, func(w io.Writer) {
						for _, e := range entries {
							status := "allowed"
							if e.Blocked {
								status = "blocked"
							}
							fmt.Fprintf(w, "%s  %-8s %s\n", e.Timestamp.Format(time.RFC3339), status, e.Reason)
						}
					})
				}

				var entries []audit.PhaseTransition
				if fileLog, ok := a.history.(*audit.FileHistoryLog); ok {
					all, err := fileLog.Entries(ctx)
					if err != nil {
						return err
					}
					entries = tail(all, limit)
				} else {
					latest, err := a.history.Latest(ctx)
					if err != nil {
						return err
					}
					if latest != nil {
						entries = append(entries, *latest)
					}
				}
				return c.emit(cmd, entries, func(w io.Writer) {
					for _, e := range entries {
						kind := "validated"
						if e.Forced {
							kind = "forced"
						}
						fmt.Fprintf(w, "%s  %-10s -> %-10s %-9s %s\n", e.Timestamp.Format(time.RFC3339),
							e.FromPhase.Token(), e.ToPhase.Token(), kind, e.TransitionID)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&overrides, "overrides", false, "Show the override attempt log instead")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many recent entries (0 for all)")
	return cmd
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API (/status, /validate, /limit/next, /health, /metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				srvCfg := httpapi.DefaultServerConfig()
				srvCfg.Host = c.cfg.HTTP.Host
				srvCfg.Port = c.cfg.HTTP.Port
				srvCfg.Version = version
				srv := httpapi.NewServer(srvCfg, a.manager, a.registry, a.checks...)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}
