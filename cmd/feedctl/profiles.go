package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/seed"
)

func newSignupCmd(flags *rootFlags) *cobra.Command {
	var alias, role string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create your profile",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if err := a.client.CreateProfile(ctx, alias, feed.Role(role)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed up %s as %s (%s)\n", a.client.CurrentUserID(), alias, role)
			return nil
		}),
	}
	cmd.Flags().StringVar(&alias, "alias", "", "Public name (required)")
	cmd.Flags().StringVar(&role, "role", string(feed.RoleArtist), "artist or promoter")
	_ = cmd.MarkFlagRequired("alias")
	return cmd
}

func newProfileCmd(flags *rootFlags) *cobra.Command {
	var picture string
	cmd := &cobra.Command{
		Use:   "profile [user-id]",
		Short: "Show a user's page, or your own",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			out := cmd.OutOrStdout()
			if picture != "" {
				img, file, err := seed.OpenImage(picture)
				if err != nil {
					return err
				}
				defer file.Close()
				url, err := a.client.UpdateProfilePicture(ctx, *img)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "profile picture %s\n", url)
			}

			uid, err := targetUser(a, args)
			if err != nil {
				return err
			}
			page, err := a.client.UserPage(ctx, uid)
			if err != nil {
				return err
			}
			p := page.Profile
			fmt.Fprintf(out, "%s (%s) %s\n", p.Alias, p.Role, uid)
			if p.ProfilePicture != "" {
				fmt.Fprintf(out, "picture: %s\n", p.ProfilePicture)
			}
			now := a.now()
			printEvents(out, "posted", page.Posted, now, a.loc)
			printEvents(out, "saved", page.Saved, now, a.loc)
			return nil
		}),
	}
	cmd.Flags().StringVar(&picture, "set-picture", "", "Upload a new profile picture first")
	return cmd
}

func newAliasCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "alias <new-alias>",
		Short: "Rename yourself",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			if err := a.client.UpdateAlias(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alias is now %s\n", args[0])
			return nil
		}),
	}
}

func newSavedCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "saved [user-id]",
		Short: "List saved events",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			uid, err := targetUser(a, args)
			if err != nil {
				return err
			}
			events, err := a.client.SavedEvents(ctx, uid)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), "saved", events, a.now(), a.loc)
			return nil
		}),
	}
}

func targetUser(a *app, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if uid := a.client.CurrentUserID(); uid != "" {
		return uid, nil
	}
	return "", fmt.Errorf("no user given: %w", feed.ErrUnauthenticated)
}
