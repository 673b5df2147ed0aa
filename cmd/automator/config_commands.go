package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/commensal-automator/internal/config"
)

func newCheckConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load, validate and print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source := ctx.configPath
			if !ctx.configExists {
				source += " (not found; defaults)"
			}

			rows := [][]string{
				{"config", source},
				{"redis.endpoint", cfg.Redis.Endpoint},
				{"redis.db", strconv.Itoa(cfg.Redis.DB)},
				{"automator.antenna_key", cfg.Automator.AntennaKey},
				{"automator.daq_domain", cfg.Automator.DAQDomain},
				{"automator.instances", strings.Join(cfg.Automator.Instances, ", ")},
				{"automator.duration", cfg.Duration().String()},
				{"automator.notify_event", cfg.Automator.NotifyEvent},
				{"automator.lock_path", cfg.Automator.LockPath},
				{"gateway.timeout", cfg.GatewayTimeout().String()},
				{"history.path", orDisabled(cfg.History.Path)},
				{"logging.level", cfg.Logging.Level},
				{"metrics.addr", orDisabled(cfg.Metrics.Addr)},
				{"health.grpc_addr", orDisabled(cfg.Health.GRPCAddr)},
				{"tracing.enabled", strconv.FormatBool(cfg.Tracing.Enabled)},
				{"tracing.namespace", cfg.Tracing.Namespace},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, listing{Columns: columns("Setting", "Value"), Rows: rows}.render())
			fmt.Fprintln(out, "Configuration is valid.")
			return nil
		},
	}
}

func newInitConfigCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init-config",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
