package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hedgepool/cmd/internal/passphrase"
	"hedgepool/crypto"
)

const (
	defaultAPI     = "http://localhost:7080"
	defaultPassEnv = "STABLED_KEYSTORE_PASSPHRASE"
)

type globalFlags struct {
	api     string
	token   string
	account string
}

func (g *globalFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&g.api, "api", envOr("STABLECTL_API", defaultAPI), "stabled API base URL")
	flags.StringVar(&g.token, "token", os.Getenv("STABLED_API_TOKEN"), "API bearer token")
	flags.StringVar(&g.account, "account", os.Getenv("STABLECTL_ACCOUNT"), "bech32 account the request acts for")
}

func (g *globalFlags) client() *apiClient {
	return newAPIClient(g.api, g.token, g.account)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "stablectl",
		Short:         "Operate a stabled collateral pool daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(root.PersistentFlags())
	root.AddCommand(
		keygenCommand(),
		queryCommand(g, "pool <asset>", "Show a collateral pool", func(args []string) string {
			return "/v1/pools/" + url.PathEscape(args[0])
		}),
		queryCommand(g, "position <nonce>", "Inspect a hedging position", func(args []string) string {
			return "/v1/positions/" + url.PathEscape(args[0])
		}),
		queryCommand(g, "positions <asset>", "List hedging positions on a pool", func(args []string) string {
			return "/v1/pools/" + url.PathEscape(args[0]) + "/positions"
		}),
		queryCommand(g, "pending", "List outstanding lending requests", func([]string) string {
			return "/v1/lending/pending"
		}),
		eventsCommand(g),
		importCommand(g),
		pauseCommand(g),
	)
	return root
}

func keygenCommand() *cobra.Command {
	var (
		out     string
		passEnv string
	)
	c := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keeper key into an encrypted keystore",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("keystore %s already exists", out)
			}
			pass, err := passphrase.NewSource(passEnv, passphrase.WithConfirm()).Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(out, key, pass); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s\n", key.PubKey().Address())
			return nil
		},
	}
	c.Flags().StringVar(&out, "out", "keeper.keystore", "keystore output path")
	c.Flags().StringVar(&passEnv, "pass-env", defaultPassEnv, "environment variable holding the passphrase")
	return c
}

func queryCommand(g *globalFlags, use, short string, path func(args []string) string) *cobra.Command {
	var args cobra.PositionalArgs = cobra.NoArgs
	if strings.Contains(use, "<") {
		args = cobra.ExactArgs(1)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(c *cobra.Command, argv []string) error {
			payload, err := g.client().do(c.Context(), http.MethodGet, path(argv), nil)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), payload)
		},
	}
}

func eventsCommand(g *globalFlags) *cobra.Command {
	var (
		eventType string
		asset     string
		after     uint64
		limit     int
	)
	c := &cobra.Command{
		Use:   "events",
		Short: "List journaled protocol events",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			q := url.Values{}
			if eventType != "" {
				q.Set("type", eventType)
			}
			if asset != "" {
				q.Set("asset", asset)
			}
			if after > 0 {
				q.Set("after", strconv.FormatUint(after, 10))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/events"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			payload, err := g.client().do(c.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), payload)
		},
	}
	c.Flags().StringVar(&eventType, "type", "", "only events of this type")
	c.Flags().StringVar(&asset, "asset", "", "only events for this collateral")
	c.Flags().Uint64Var(&after, "after", 0, "only events after this sequence number")
	c.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	return c
}

func importCommand(g *globalFlags) *cobra.Command {
	var skipExisting bool
	c := &cobra.Command{
		Use:   "import <assets.yaml>",
		Short: "Whitelist the collateral listings in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, argv []string) error {
			assets, err := readAssets(argv[0])
			if err != nil {
				return err
			}
			client := g.client()
			for _, asset := range assets {
				if _, err := asset.Parameters(); err != nil {
					return err
				}
				_, err := client.do(c.Context(), http.MethodPost, "/v1/admin/pools", asset)
				var apiErr *apiError
				if errors.As(err, &apiErr) && skipExisting && apiErr.Status == http.StatusConflict {
					fmt.Fprintf(c.OutOrStdout(), "%s: already whitelisted\n", asset.ID)
					continue
				}
				if err != nil {
					return fmt.Errorf("%s: %w", asset.ID, err)
				}
				fmt.Fprintf(c.OutOrStdout(), "%s: whitelisted\n", asset.ID)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&skipExisting, "skip-existing", false, "ignore assets that are already whitelisted")
	return c
}

func pauseCommand(g *globalFlags) *cobra.Command {
	var resume bool
	c := &cobra.Command{
		Use:   "pause <module>",
		Short: "Pause or resume a protocol module",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, argv []string) error {
			payload, err := g.client().do(c.Context(), http.MethodPut, "/v1/admin/pauses/"+url.PathEscape(argv[0]), map[string]bool{"paused": !resume})
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), payload)
		},
	}
	c.Flags().BoolVar(&resume, "resume", false, "resume instead of pausing")
	return c
}
