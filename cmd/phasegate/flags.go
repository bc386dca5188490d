package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/secrets"
)

// dateValue is a YYYY-MM-DD flag; unset means "now".
type dateValue struct {
	t   time.Time
	set bool
}

var _ pflag.Value = (*dateValue)(nil)

func (d *dateValue) Set(s string) error {
	t, err := time.Parse(limiter.DateLayout, s)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	d.t, d.set = t, true
	return nil
}

func (d *dateValue) String() string {
	if !d.set {
		return ""
	}
	return d.t.Format(limiter.DateLayout)
}

func (d *dateValue) Type() string { return "date" }

func (d *dateValue) Or(now time.Time) time.Time {
	if d.set {
		return d.t
	}
	return now.UTC()
}

func addDateFlag(fs *pflag.FlagSet, d *dateValue) {
	fs.Var(d, "date", "Trading date (YYYY-MM-DD), defaults to today UTC")
}

// readPassword takes the override password from the named environment
// variable, a terminal prompt, or the first line of stdin, in that order.
// An empty result is returned as-is so the manager can refuse it.
func readPassword(cmd *cobra.Command, envName string) (*secrets.SecretSafeString, error) {
	if envName != "" {
		return secrets.NewSecretSafeString(os.Getenv(envName)), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Override password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return secrets.NewSecretSafeString(string(raw)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return secrets.NewSecretSafeString(strings.TrimRight(line, "\r\n")), nil
}
