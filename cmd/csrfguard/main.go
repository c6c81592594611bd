package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/minus-twelve/csrfguard"
	"github.com/minus-twelve/csrfguard/internal/server"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(viper.New()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          "csrfguard",
		Short:        "CSRF protected demo service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("env", "", "environment (production hides CSRF failure causes)")
	root.PersistentFlags().String("strategy", "", "csrf strategy: double_submit, session or signed")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("env", root.PersistentFlags().Lookup("env"))
	_ = v.BindPFlag("csrf.strategy", root.PersistentFlags().Lookup("strategy"))

	v.SetEnvPrefix("CSRFGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("csrf.secret", "CSRFGUARD_CSRF_SECRET", "CSRF_SECRET")
	_ = v.BindEnv("addr")
	_ = v.BindEnv("store_type")
	_ = v.BindEnv("redis.addr")
	_ = v.BindEnv("redis.password")

	root.AddCommand(newServeCmd(v), newTokenCmd(v))
	return root
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Warn("failed to close server", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var sign bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a new CSRF token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printToken(cmd.OutOrStdout(), v.GetString("csrf.secret"), sign)
		},
	}
	cmd.Flags().BoolVar(&sign, "sign", false, "print the signed form token.signature")
	return cmd
}

func printToken(w io.Writer, secret string, sign bool) error {
	tok, err := token.Generate()
	if err != nil {
		return err
	}
	if sign {
		if secret == "" {
			return csrfguard.ErrMissingSecret
		}
		tok = token.SignedValue([]byte(secret), tok)
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// loadConfig reads the optional YAML file and applies flag and environment
// overrides on top of it.
func loadConfig(v *viper.Viper) (types.Config, error) {
	cfg := csrfguard.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := csrfguard.ReadConfig(path)
		if err != nil {
			return types.Config{}, err
		}
		cfg = loaded
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{"env", &cfg.Env},
		{"addr", &cfg.Addr},
		{"store_type", &cfg.StoreType},
		{"redis.addr", &cfg.Redis.Addr},
		{"redis.password", &cfg.Redis.Password},
		{"csrf.strategy", &cfg.CSRF.Strategy},
		{"csrf.secret", &cfg.CSRF.Secret},
	}
	for _, o := range overrides {
		if value := v.GetString(o.key); value != "" {
			*o.dst = value
		}
	}

	if err := csrfguard.ValidateConfig(cfg); err != nil {
		return types.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg types.Config) (*zap.Logger, error) {
	if csrfguard.IsProduction(cfg) {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
