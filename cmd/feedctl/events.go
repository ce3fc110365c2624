package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/calendar"
	"github.com/joncaseee/pdx-underground-app/internal/seed"
)

func newLikeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "like <event-id>",
		Short: "Toggle your like on an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			return toggle(ctx, cmd.OutOrStdout(), a, args[0], (*feed.View).ToggleLike, "liked", "unliked")
		}),
	}
}

func newSaveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "save <event-id>",
		Short: "Toggle an event in your saved list",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			return toggle(ctx, cmd.OutOrStdout(), a, args[0], (*feed.View).ToggleSave, "saved", "unsaved")
		}),
	}
}

func toggle(ctx context.Context, w io.Writer, a *app, eventID string, fn func(*feed.View, context.Context, string) (bool, error), on, off string) error {
	v, err := a.client.SubscribeCurrent(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	now, err := fn(v, ctx, eventID)
	if err != nil {
		return err
	}
	if err := a.client.AwaitConsistency(ctx, v.UserID(), eventID); err != nil {
		return err
	}
	word := off
	if now {
		word = on
	}
	fmt.Fprintf(w, "%s %s\n", word, eventID)
	return nil
}

func newCreateCmd(flags *rootFlags) *cobra.Command {
	var d feed.EventDraft
	var image string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a new event and print its id",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if image != "" {
				img, file, err := seed.OpenImage(image)
				if err != nil {
					return err
				}
				defer file.Close()
				d.Image = img
			}
			id, err := a.client.CreateEvent(ctx, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&d.Title, "title", "t", "", "Event title (required)")
	cmd.Flags().StringVar(&d.Organizer, "organizer", "", "Organizer shown on the event (defaults to your alias)")
	cmd.Flags().StringVarP(&d.Description, "description", "d", "", "Event description")
	cmd.Flags().StringVarP(&d.DateTime, "when", "w", "", "Start time, e.g. 2031-06-07T22:00 (required)")
	cmd.Flags().StringVar(&image, "image", "", "Path to a flyer image")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("when")
	return cmd
}

func newEditCmd(flags *rootFlags) *cobra.Command {
	var title, organizer, description, dateTime, image string
	cmd := &cobra.Command{
		Use:   "edit <event-id>",
		Short: "Change fields of an event you posted",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			var edit feed.EventEdit
			fl := cmd.Flags()
			if fl.Changed("title") {
				edit.Title = &title
			}
			if fl.Changed("organizer") {
				edit.Organizer = &organizer
			}
			if fl.Changed("description") {
				edit.Description = &description
			}
			if fl.Changed("when") {
				edit.DateTime = &dateTime
			}
			if image != "" {
				img, file, err := seed.OpenImage(image)
				if err != nil {
					return err
				}
				defer file.Close()
				edit.Image = img
			}
			if err := a.client.EditEvent(ctx, args[0], edit); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			return nil
		}),
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVar(&organizer, "organizer", "", "New organizer")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVarP(&dateTime, "when", "w", "", "New start time")
	cmd.Flags().StringVar(&image, "image", "", "Replace the flyer image")
	return cmd
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete an event you posted",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			if err := a.client.DeleteEvent(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

func newSeedCmd(flags *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Create every event listed in a YAML fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			fixtures, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			dir := filepath.Dir(args[0])
			out := cmd.OutOrStdout()
			for _, f := range fixtures {
				if dryRun {
					fmt.Fprintf(out, "would create %q at %s\n", f.Title, f.DateTime)
					continue
				}
				id, err := createFixture(ctx, a, f, dir)
				if err != nil {
					return fmt.Errorf("seed %q: %w", f.Title, err)
				}
				fmt.Fprintf(out, "created %s %s\n", id, f.Title)
			}
			a.log.Info().Int("count", len(fixtures)).Bool("dry_run", dryRun).Msg("seed finished")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	return cmd
}

func createFixture(ctx context.Context, a *app, f seed.Fixture, dir string) (string, error) {
	d, closer, err := f.Draft(dir)
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return a.client.CreateEvent(ctx, d)
}

func newExportICSCmd(flags *rootFlags) *cobra.Command {
	var (
		out      string
		name     string
		duration time.Duration
		mine     bool
		past     bool
	)
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Write the upcoming feed as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			opts, err := subscribeOptions(a, mine, past)
			if err != nil {
				return err
			}
			v, err := a.client.SubscribeCurrent(ctx, opts...)
			if err != nil {
				return err
			}
			snap := v.Snapshot()
			_ = v.Close()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			skipped, err := calendar.Write(w, snap.Events, calendar.Options{
				Name:     name,
				Duration: duration,
				Location: a.loc,
				Stamp:    snap.Now,
			})
			if err != nil {
				return err
			}
			if len(skipped) > 0 {
				a.log.Warn().Strs("event_ids", skipped).Msg("events without a usable dateTime were not exported")
			}
			a.log.Info().Int("events", len(snap.Events)-len(skipped)).Str("out", out).Msg("calendar written")
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&name, "name", "", "Calendar name")
	cmd.Flags().DurationVar(&duration, "duration", 3*time.Hour, "Length assumed for every event")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only events you posted")
	cmd.Flags().BoolVar(&past, "past", false, "Include events that already started")
	return cmd
}

func subscribeOptions(a *app, mine, past bool) ([]feed.SubscribeOption, error) {
	var opts []feed.SubscribeOption
	if mine {
		uid := a.session.CurrentUserID()
		if uid == "" {
			return nil, fmt.Errorf("--mine: %w", feed.ErrUnauthenticated)
		}
		opts = append(opts, feed.OwnedBy(uid))
	}
	if past {
		opts = append(opts, feed.IncludePast())
	}
	return opts, nil
}
