// Package main is the entrypoint for the m4a-notes command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/httpclient"
	"github.com/productivity-tools/m4a-notes/internal/purchase"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Persistent flags.
var (
	configPath string
	verbose    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func userAgent() string {
	return "m4a-notes-cli/" + Version
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "m4a-notes",
		Short: "Turn M4A recordings into text notes",
		Long: `m4a-notes uploads M4A voice recordings to a notes gateway, waits for
transcription and prints or saves the transcripts.

Run 'm4a-notes config set server_url <url>' and
'm4a-notes config set token <token>' to get started.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.m4a-notes/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newUploadCmd(),
		newEntitlementsCmd(),
		newPlansCmd(),
		newValidatePurchaseCmd(),
	)

	return rootCmd
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.ClientConfig, string, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

// loadReadyConfig loads the config and refuses to continue until it is usable.
func loadReadyConfig() (*config.ClientConfig, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w (see 'm4a-notes config show')", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("m4a-notes %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Config file: %s\n", path)
			fmt.Println()

			if !cfg.IsConfigured() {
				fmt.Println("Client is not configured. Set server_url and token with 'm4a-notes config set'.")
				return nil
			}

			interval, ceiling := cfg.PollTiming()
			fmt.Printf("Server URL:    %s\n", cfg.ServerURL)
			fmt.Printf("Token:         %s\n", maskToken(cfg.Token))
			fmt.Printf("Pipeline:      %s\n", cfg.PipelineName())
			fmt.Printf("Max file size: %d MB\n", cfg.MaxFileSize()>>20)
			fmt.Printf("Polling:       every %s for up to %s\n", interval, ceiling)
			fmt.Printf("Proxy:         %s\n", httpclient.Describe(cfg.Proxy))

			if check {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				fmt.Print("Checking server connection... ")
				if err := httpclient.Probe(ctx, cfg.Proxy, strings.TrimRight(cfg.ServerURL, "/")+"/health"); err != nil {
					fmt.Println("FAILED")
					return err
				}
				fmt.Println("OK")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "probe the server through the configured proxy")
	return cmd
}

var configKeys = []string{
	"server_url", "token", "pipeline", "max_file_size_mb",
	"poll_interval", "poll_ceiling",
	"http_proxy", "https_proxy", "socks5_proxy", "no_proxy",
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + strings.Join(configKeys, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			value := args[1]
			if args[0] == "token" {
				value = maskToken(value)
			}
			fmt.Printf("%s set to: %s\n", args[0], value)
			return nil
		},
	}
}

func setConfigValue(cfg *config.ClientConfig, key, value string) error {
	proxy := func() *config.ProxyConfig {
		if cfg.Proxy == nil {
			cfg.Proxy = &config.ProxyConfig{}
		}
		return cfg.Proxy
	}

	switch key {
	case "server_url":
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return errors.New("server URL must use http or https scheme")
		}
		cfg.ServerURL = strings.TrimSuffix(value, "/")
	case "token":
		cfg.Token = strings.TrimSpace(value)
	case "pipeline":
		if value != config.PipelineSeparate && value != config.PipelineCombined {
			return fmt.Errorf("pipeline must be %q or %q", config.PipelineSeparate, config.PipelineCombined)
		}
		cfg.Pipeline = value
	case "max_file_size_mb":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid size %q", value)
		}
		cfg.MaxFileSizeMB = n
	case "poll_interval", "poll_ceiling":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid duration %q", value)
		}
		if key == "poll_interval" {
			cfg.PollInterval = d
		} else {
			cfg.PollCeiling = d
		}
	case "http_proxy":
		proxy().HTTPProxy = value
	case "https_proxy":
		proxy().HTTPSProxy = value
	case "socks5_proxy":
		proxy().SOCKS5Proxy = value
	case "no_proxy":
		proxy().NoProxy = value
	default:
		return fmt.Errorf("unknown key %q (keys: %s)", key, strings.Join(configKeys, ", "))
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

func newEntitlementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entitlements",
		Short: "Show your plan and subscription status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadReadyConfig()
			if err != nil {
				return err
			}
			gw, err := newGateway(cfg)
			if err != nil {
				return err
			}

			var resp struct {
				Entitlements entitlement.Entitlement `json:"entitlements"`
			}
			if err := gw.get(cmd.Context(), "/me/entitlements", &resp); err != nil {
				return err
			}

			e := resp.Entitlements
			fmt.Printf("Plan:     %s\n", e.CurrentPlan())
			fmt.Printf("Status:   %s\n", e.Status)
			if e.Provider != "" {
				fmt.Printf("Provider: %s\n", e.Provider)
			}
			for _, f := range []entitlement.Feature{entitlement.FeaturePro, entitlement.FeatureBusiness} {
				fmt.Printf("%-9s %v\n", string(f)+":", entitlement.HasAccess(e, f))
			}
			return nil
		},
	}
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List plans and what you can buy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadReadyConfig()
			if err != nil {
				return err
			}
			gw, err := newGateway(cfg)
			if err != nil {
				return err
			}

			var resp struct {
				CurrentPlan entitlement.Plan `json:"currentPlan"`
				Plans       []struct {
					entitlement.PlanInfo
					CanPurchase bool                             `json:"canPurchase"`
					Subscribed  bool                             `json:"subscribed"`
					Hint        *entitlement.SubscriptionMessage `json:"hint"`
				} `json:"plans"`
				Packs []entitlement.Pack `json:"packs"`
			}
			if err := gw.get(cmd.Context(), "/plans", &resp); err != nil {
				return err
			}

			fmt.Printf("Current plan: %s\n\n", resp.CurrentPlan)
			for _, p := range resp.Plans {
				line := fmt.Sprintf("%-10s $%-6.2f %s", p.Name, p.Price, p.Key)
				if p.Subscribed {
					line = "* " + line
				} else {
					line = "  " + line
				}
				if p.Hint != nil {
					line += "  (" + p.Hint.Message + ")"
				} else if p.CanPurchase {
					line += "  (available)"
				}
				fmt.Println(line)
			}
			if len(resp.Packs) > 0 {
				fmt.Println()
				for _, pk := range resp.Packs {
					fmt.Printf("%-10s $%-6.2f %s\n", pk.Name, pk.Price, pk.Description)
				}
			}
			return nil
		},
	}
}

func newValidatePurchaseCmd() *cobra.Command {
	var intent purchase.Intent

	cmd := &cobra.Command{
		Use:   "validate-purchase",
		Short: "Check whether a plan can be bought before checkout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if intent.PriceID == "" && intent.PlanKey == "" {
				return errors.New("one of --price or --plan is required")
			}
			cfg, err := loadReadyConfig()
			if err != nil {
				return err
			}
			gw, err := newGateway(cfg)
			if err != nil {
				return err
			}

			var res purchase.Result
			err = gw.post(cmd.Context(), "/validate-purchase", intent, &res)
			if err != nil && res.Reason == "" {
				return err
			}

			verdict := "allowed"
			if !res.Valid {
				verdict = "not allowed"
			}
			fmt.Printf("Purchase %s: %s\n", verdict, res.Message)
			fmt.Printf("  Reason:  %s\n", res.Reason)
			if res.CurrentPlanName != "" || res.TargetPlanName != "" {
				fmt.Printf("  Plans:   %s -> %s\n", res.CurrentPlanName, res.TargetPlanName)
			}
			if !res.Valid {
				return fmt.Errorf("purchase rejected: %s", res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&intent.PriceID, "price", "", "billing price id")
	cmd.Flags().StringVar(&intent.PlanKey, "plan", "", "plan key (pro, business)")
	return cmd
}
