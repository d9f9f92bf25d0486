// Package commands implements the tallyctl subcommands: offline views and
// exports of counting sessions saved as state JSON or in the SQLite store.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"movement-tally/internal/counting"
	"movement-tally/internal/platform/logger"
	"movement-tally/internal/storage/sqlite"
	"movement-tally/internal/tally"
)

const (
	stateFlag   = "state"
	dbFlag      = "db"
	sessionFlag = "session"
	bucketFlag  = "bucket"
)

var (
	// ErrNoSource is returned when neither --state nor --db is given.
	ErrNoSource = errors.New("a session source is required (use --state or --db)")

	// ErrBothSources is returned when --state and --db are both given.
	ErrBothSources = errors.New("--state and --db are mutually exclusive")

	// ErrNoSession is returned when --db is given without --session.
	ErrNoSession = errors.New("--db requires --session")
)

// NewRootCommand builds the tallyctl command tree.
func NewRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "tallyctl",
		Short: "Inspect and export movement counting sessions",
		Long: `tallyctl reads a counting session from a state JSON file or the
service's SQLite database and prints counts, interval tables, or CSV exports.

Commands:
  counts     Per-column totals
  intervals  Gap-filled interval table
  export     Write the interval CSV to a file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")

	logFn := func() *slog.Logger {
		if verbose {
			return logger.NewWithWriter(os.Stderr, "debug", "text")
		}
		return logger.Discard()
	}

	root.AddCommand(newCountsCommand(logFn))
	root.AddCommand(newIntervalsCommand(logFn))
	root.AddCommand(newExportCommand(logFn))

	return root
}

// source identifies where a session is read from.
type source struct {
	statePath string
	dbPath    string
	sessionID string
}

func (s *source) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.statePath, stateFlag, "", "path to a session state JSON file")
	cmd.Flags().StringVar(&s.dbPath, dbFlag, "", "path to the SQLite database")
	cmd.Flags().StringVar(&s.sessionID, sessionFlag, "", "session id to read from --db")
}

func (s *source) validate() error {
	switch {
	case s.statePath == "" && s.dbPath == "":
		return ErrNoSource
	case s.statePath != "" && s.dbPath != "":
		return ErrBothSources
	case s.dbPath != "" && s.sessionID == "":
		return ErrNoSession
	}
	return nil
}

// load restores the session the flags point at.
func (s *source) load(ctx context.Context, log *slog.Logger) (*tally.Session, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	var st tally.State
	if s.statePath != "" {
		raw, err := os.ReadFile(s.statePath)
		if err != nil {
			return nil, fmt.Errorf("read state: %w", err)
		}
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", s.statePath, err)
		}
		log.Debug("loaded state file", "path", s.statePath, "events", len(st.Events))
	} else {
		db, err := sqlite.Open(s.dbPath, log)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		rec, ok, err := db.Load(ctx, counting.SessionID(s.sessionID))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", counting.ErrSessionNotFound, s.sessionID)
		}
		st = rec.State
		log.Debug("loaded session", "session_id", s.sessionID, "kind", rec.Kind, "events", len(st.Events))
	}

	return tally.Restore(st)
}
