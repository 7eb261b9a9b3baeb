package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
)

var (
	tagKind     string
	tagFile     string
	promoteHelp bool
	promoteAdm  bool
	tokenSub    string
	tokenScopes []string
)

func newTagsCommand() *cobra.Command {
	tags := &cobra.Command{
		Use:   "tags",
		Short: "Manage question and category tags",
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Make the stored tags of one kind match a list, one name per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, ok := domain.ParseTagKind(tagKind)
			if !ok {
				return fmt.Errorf("unknown tag kind %q", tagKind)
			}
			input, err := readInput(cmd.InOrStdin(), tagFile)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.tags.Sync(cmd.Context(), kind, service.ParseTagLines(input), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d: %s\n", len(result.Created), strings.Join(result.Created, ", "))
			fmt.Fprintf(out, "deleted %d: %s\n", len(result.Deleted), strings.Join(result.Deleted, ", "))
			return nil
		},
	}
	sync.Flags().StringVar(&tagKind, "kind", string(domain.TagKindCategory), "tag kind: question or category")
	sync.Flags().StringVar(&tagFile, "file", "-", "file with one tag per line, - for stdin")

	tags.AddCommand(sync)
	return tags
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func newUsersCommand() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage helper and admin roles",
	}

	promote := &cobra.Command{
		Use:   "promote <chat-user-id>",
		Short: "Set the helper and admin flags of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.users.SetRoles(cmd.Context(), args[0], promoteHelp, promoteAdm)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s helper=%t admin=%t\n", user.ChatUserID, user.Helper, user.Admin)
			return nil
		},
	}
	promote.Flags().BoolVar(&promoteHelp, "helper", true, "grant the helper role")
	promote.Flags().BoolVar(&promoteAdm, "admin", false, "grant the admin role")

	list := &cobra.Command{
		Use:   "helpers",
		Short: "List users with the helper role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			helpers, err := a.users.Helpers(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range helpers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tadmin=%t\n", h.ChatUserID, h.Admin)
			}
			return nil
		},
	}

	users.AddCommand(promote, list)
	return users
}

func newTokenCommand() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Reporting API tokens",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the reporting API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("API_JWT_SECRET is required to issue tokens")
			}
			if tokenSub == "" {
				return fmt.Errorf("--subject is required")
			}

			tm := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			signed, expires, err := tm.GenerateToken(tokenSub, tokenScopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&tokenSub, "subject", "", "token subject")
	issue.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeReports}, "granted scopes")

	token.AddCommand(issue)
	return token
}
