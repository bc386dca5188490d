package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/phasegate/internal/config"
	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/progression"
)

const (
	appName = "phasegate"
	version = "v0.4.0"
)

// Exit codes for automation.
const (
	exitOK             = 0
	exitError          = 1
	exitUsage          = 2
	exitCriteriaNotMet = 3
	exitOverrideRefuse = 4
	exitTradeLimited   = 5
	exitInconsistent   = 6
)

func main() {
	setupLogging(os.Stderr)

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errQuiet) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		os.Exit(exitCode(err))
	}
}

// setupLogging uses the console writer on a terminal and JSON lines otherwise.
func setupLogging(out *os.File) {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(out.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// cli carries the global flags and the loaded configuration.
type cli struct {
	configPath string
	logLevel   string
	jsonOut    bool
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:     appName,
		Short:   "Trading phase progression gate",
		Version: version,
		Long: `phasegate moves a trading operation through four phases
(experience -> proof -> trial -> scaling) only when recorded performance
meets the gate for the next phase, caps daily trades per phase, and audits
every forced override.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Config file path (empty for built-in defaults)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override logging.level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print JSON instead of text")

	root.AddCommand(
		c.statusCommand(),
		c.validateCommand(),
		c.advanceCommand(),
		c.limitCommand(),
		c.recoverCommand(),
		c.historyCommand(),
		c.serveCommand(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	path := c.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("Default config file absent; using built-in defaults")
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return usageError{err}
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return usageError{fmt.Errorf("log level: %w", err)}
	}
	zerolog.SetGlobalLevel(level)

	c.cfg = cfg
	return nil
}

// usageError marks bad flags or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// errQuiet marks errors whose explanation was already printed.
var errQuiet = errors.New("quiet")

func exitCode(err error) int {
	var (
		usage        usageError
		inconsistent *progression.InconsistentStateError
		limited      *limiter.TradeLimitExceededError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case errors.As(err, &inconsistent):
		return exitInconsistent
	case errors.Is(err, progression.ErrCriteriaNotMet):
		return exitCriteriaNotMet
	case errors.Is(err, progression.ErrOverrideNotConfigured),
		errors.Is(err, progression.ErrOverridePasswordRequired),
		errors.Is(err, progression.ErrInvalidOverridePassword),
		errors.Is(err, progression.ErrOverrideRateLimited):
		return exitOverrideRefuse
	case errors.As(err, &limited):
		return exitTradeLimited
	default:
		return exitError
	}
}
