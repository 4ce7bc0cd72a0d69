package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexlearn/internal/config"
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/realtime"
	"github.com/normanking/cortexlearn/internal/server"
	"github.com/normanking/cortexlearn/internal/tts"
	"github.com/normanking/cortexlearn/internal/tutor"
)

func serveCmd() *cobra.Command {
	var lessonPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a lesson session behind the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if lessonPath != "" {
				cfg.Lesson.Path = lessonPath
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()
			log := logger.Zerolog()

			l, err := lesson.Load(cfg.Lesson.Path)
			if err != nil {
				return err
			}
			provider, err := tts.NewProvider(cfg.TTS, logger.Component("tts"))
			if err != nil {
				return err
			}

			sess, err := tutor.New(l, provider, cfg.Tutor(), tutor.WithLogger(logger.Component("tutor")))
			if err != nil {
				return err
			}
			defer sess.Close()

			if cfg.Redis.Enabled {
				client, err := realtime.NewClient(realtime.Config{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
					MaxLen:   cfg.Redis.MaxLen,
				}, log)
				if err != nil {
					return err
				}
				defer client.Close()
				realtime.NewPublisher(client, cfg.Redis.Stream, log).Attach(sess.Bus())
				logger.Info("realtime", "Publishing session events", map[string]interface{}{"stream": cfg.Redis.Stream})
			}

			loader.Watch(func(next *config.Config) {
				sess.Aggregator().UpdateConfig(next.Sensing)
				logger.Info("config", "Sensing thresholds reloaded", nil)
			})

			metricsPath := ""
			if cfg.Metrics.Enabled {
				metricsPath = cfg.Metrics.Path
			}
			srv := server.New(server.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				AllowedOrigins:  cfg.Server.AllowedOrigins,
				MetricsPath:     metricsPath,
				Version:         version,
			}, sess, logger.Component("server"))
			srv.SetLogSource(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sess.Start(ctx); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			logger.Info("serve", "Lesson session ready", map[string]interface{}{
				"lesson":  l.ID,
				"session": sess.ID(),
				"addr":    cfg.Server.Addr,
			})

			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lessonPath, "lesson", "", "lesson YAML file (overrides lesson.path)")
	return cmd
}
