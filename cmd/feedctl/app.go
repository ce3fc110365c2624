package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/config"
	"github.com/joncaseee/pdx-underground-app/internal/factory"
	"github.com/joncaseee/pdx-underground-app/internal/identity"
	"github.com/joncaseee/pdx-underground-app/internal/logger"
)

// rootFlags override the PDXFEED_ environment for one invocation.
type rootFlags struct {
	user     string
	logLevel string
}

// app is the client wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	session  *identity.Session
	client   *feed.Client
	backends *factory.Backends
	loc      *time.Location
}

func openApp(ctx context.Context, cmd *cobra.Command, flags *rootFlags) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if flags.user != "" {
		cfg.UserID = flags.user
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}, "feedctl", cfg.LogLevel)

	session := identity.NewSession(cfg.UserID)
	client, backends, err := factory.NewClient(ctx, cfg, session, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("backends unavailable")
		return nil, err
	}
	return &app{cfg: cfg, log: log, session: session, client: client, backends: backends, loc: loc}, nil
}

func (a *app) now() time.Time { return time.Now().In(a.loc) }

func (a *app) close() error {
	return errors.Join(a.client.Close(), a.backends.Close())
}

// withApp opens the client for the duration of one command.
func withApp(flags *rootFlags, run func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, cmd, flags)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, a.close()) }()
		return run(ctx, cmd, args, a)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "feedctl",
		Short:         "Browse and manage the PDX Underground event feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.user, "user", "u", "", "Act as this user id (overrides PDXFEED_USER_ID)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (overrides PDXFEED_LOG_LEVEL)")

	root.AddCommand(
		newWatchCmd(flags),
		newLikeCmd(flags),
		newSaveCmd(flags),
		newCreateCmd(flags),
		newEditCmd(flags),
		newDeleteCmd(flags),
		newSeedCmd(flags),
		newExportICSCmd(flags),
		newSignupCmd(flags),
		newProfileCmd(flags),
		newAliasCmd(flags),
		newSavedCmd(flags),
	)
	return root
}
