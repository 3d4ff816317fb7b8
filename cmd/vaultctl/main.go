package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"yieldvault/services/vaultd/server"
)

const (
	envEndpoint = "VAULTCTL_ENDPOINT"
	envToken    = "VAULTCTL_TOKEN"
	envSecret   = "VAULTCTL_JWT_SECRET"
)

type globalOptions struct {
	endpoint string
	token    string
	timeout  time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Operate a vaultd yield vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", envOr(envEndpoint, "http://127.0.0.1:7090"), "vaultd base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		depositCmd(opts),
		withdrawCmd(opts),
		claimCmd(opts),
		harvestCmd(opts),
		userCmd(opts),
		poolCmd(opts),
		assetsCmd(opts),
		assetCmd(opts),
		fundCmd(opts),
		pauseCmd(opts, true),
		pauseCmd(opts, false),
		eventsCmd(opts),
		tokenCmd(),
	)
	return root
}

func depositCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <user> <asset> <amount>",
		Short: "Deposit an accepted asset and mint shares",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/v1/deposit", map[string]string{
				"user": args[0], "asset": args[1], "amount": args[2],
			})
		},
	}
}

func withdrawCmd(opts *globalOptions) *cobra.Command {
	var convertRewards bool
	cmd := &cobra.Command{
		Use:   "withdraw <user> <shares> <asset>",
		Short: "Burn shares and receive the payout asset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/v1/withdraw", map[string]any{
				"user": args[0], "shares": args[1], "asset": args[2], "claim": convertRewards,
			})
		},
	}
	cmd.Flags().BoolVar(&convertRewards, "convert-rewards", false, "also convert pending rewards into the payout asset")
	return cmd
}

func claimCmd(opts *globalOptions) *cobra.Command {
	var asset string
	cmd := &cobra.Command{
		Use:   "claim <user>",
		Short: "Pay out pending rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"user": args[0], "convert": asset != ""}
			if asset != "" {
				body["asset"] = asset
			}
			return call(cmd, opts, http.MethodPost, "/v1/claim", body)
		},
	}
	cmd.Flags().StringVar(&asset, "to", "", "convert rewards into this asset")
	return cmd
}

func harvestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Collect external rewards into the accumulators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodPost, "/v1/harvest", nil)
		},
	}
}

func userCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user <address>",
		Short: "Show a depositor's shares, debt and pending rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/users/"+url.PathEscape(args[0]), nil)
		},
	}
}

func poolCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show pool state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/pool", nil)
		},
	}
}

func assetsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List accepted deposit assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/assets", nil)
		},
	}
}

func assetCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Manage the asset registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <asset>",
			Short: "Accept an asset for deposits",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, opts, http.MethodPost, "/v1/admin/assets", map[string]string{"asset": args[0]})
			},
		},
		&cobra.Command{
			Use:   "remove <asset>",
			Short: "Stop accepting an asset",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, opts, http.MethodDelete, "/v1/admin/assets/"+url.PathEscape(args[0]), nil)
			},
		},
	)
	return cmd
}

func fundCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <account> <asset> <amount>",
		Short: "Credit a custody balance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/v1/admin/fund", map[string]string{
				"account": args[0], "asset": args[1], "amount": args[2],
			})
		},
	}
}

func pauseCmd(opts *globalOptions, pause bool) *cobra.Command {
	use, short, path := "pause", "Pause user operations", "/v1/admin/pause"
	if !pause {
		use, short, path = "unpause", "Resume user operations", "/v1/admin/unpause"
	}
	var module string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodPost, path, map[string]string{"module": module})
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "module to toggle (default vault)")
	return cmd
}

func eventsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit int
		typ   string
		user  string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			if typ != "" {
				q.Set("type", typ)
			}
			if user != "" {
				q.Set("user", user)
			}
			path := "/v1/events"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return call(cmd, opts, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cmd.Flags().StringVar(&typ, "type", "", "event type filter")
	cmd.Flags().StringVar(&user, "user", "", "user filter")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret   string
		subject  string
		scopes   []string
		issuer   string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the shared secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := server.IssueToken(secret, server.TokenRequest{
				Subject:  subject,
				Scopes:   scopes,
				Issuer:   issuer,
				Audience: audience,
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv(envSecret), "HMAC secret shared with vaultd")
	cmd.Flags().StringVar(&subject, "sub", "", "token subject (user address for user tokens)")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeAdmin}, "granted scopes")
	cmd.Flags().StringVar(&issuer, "iss", "", "issuer claim")
	cmd.Flags().StringVar(&audience, "aud", "", "audience claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func call(cmd *cobra.Command, opts *globalOptions, method, path string, body any) error {
	client := newAPIClient(opts.endpoint, opts.token, opts.timeout)
	raw, err := client.do(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(pretty.String()))
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
