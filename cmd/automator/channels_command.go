package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/model"
)

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List the notification and command channels the daemon uses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			instances := model.NewInstanceSet(cfg.Automator.Instances)
			codec := channel.NewCodec(cfg.Automator.DAQDomain, cfg.Redis.DB, instances)

			rows := [][]string{{"antenna", codec.EncodeKey(cfg.Automator.AntennaKey), ""}}
			for _, inst := range instances.List() {
				rows = append(rows, []string{
					string(inst),
					codec.Encode(inst),
					channel.SetChannel(codec.Domain(), inst),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), listing{
				Columns: columns("Subject", "Notification channel", "Command channel"),
				Rows:    rows,
			}.render())
			return nil
		},
	}
}
