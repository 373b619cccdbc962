package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"histclean/internal/middleware"
)

func newTokenCmd(g *globalOptions) *cobra.Command {
	var (
		subject string
		issuer  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long:  "Signs an HS256 token with HISTCLEAN_JWT_SECRET for use against serve.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.env.JWTSecret == "" {
				return errors.New("HISTCLEAN_JWT_SECRET is not set")
			}
			v, err := middleware.NewHS256Validator(g.env.JWTSecret)
			if err != nil {
				return err
			}
			tok, err := v.IssueToken(subject, issuer, ttl)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				out := map[string]any{"token": tok, "subject": subject}
				if ttl > 0 {
					out["expires_at"] = time.Now().Add(ttl).UTC()
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Principal the token is issued to (required)")
	cmd.Flags().StringVar(&issuer, "issuer", "histclean", "Token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
