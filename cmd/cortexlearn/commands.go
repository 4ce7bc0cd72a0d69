package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/realtime"
)

func lessonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lesson",
		Short: "Inspect lesson files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <lesson.yaml>...",
		Short: "Check lesson files load and validate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				if _, err := lesson.Load(path); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %v\n", err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d lessons invalid", failed, len(args))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <lesson.yaml>",
		Short: "Print a lesson's segments with word counts per variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lesson.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s), %d segments\n", l.Title, l.ID, len(l.Segments))
			for i, seg := range l.Segments {
				fmt.Fprintf(out, "%2d. %-24s %-20s", i+1, seg.ID, seg.Concept)
				for _, v := range lesson.AllVariants() {
					fmt.Fprintf(out, " %s=%d", v, len(seg.Content(v).Words()))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	})

	return cmd
}

func eventsCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow session events published to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			client, err := realtime.NewClient(realtime.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, logger.Zerolog())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := "cli-" + uuid.NewString()[:8]
			msgs, err := client.Follow(ctx, cfg.Redis.Stream, group, consumer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for m := range msgs {
				e, err := realtime.Decode(m.Values)
				if err != nil {
					logger.Warn("events", "Undecodable stream entry", map[string]interface{}{"id": m.ID, "error": err.Error()})
					continue
				}
				fmt.Fprintf(out, "%s  %s  %-22s %s\n", e.At.Format("15:04:05.000"), e.SessionID, e.Type, formatData(e.Data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&group, "group", "cortexlearn-cli", "consumer group")
	return cmd
}
