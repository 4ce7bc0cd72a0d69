package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/tts"
	"github.com/normanking/cortexlearn/internal/tutor"
	"github.com/normanking/cortexlearn/internal/voice"
)

// scriptStep is one scripted voice command.
type scriptStep struct {
	at  time.Duration
	cmd voice.Command
}

// parseScript reads "2s:SIMPLIFY,5s:CONFUSED".
func parseScript(s string) ([]scriptStep, error) {
	var steps []scriptStep
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		offset, name, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("script step %q: want <offset>:<COMMAND>", part)
		}
		at, err := time.ParseDuration(offset)
		if err != nil {
			return nil, fmt.Errorf("script step %q: %w", part, err)
		}
		cmd, err := voice.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("script step %q: %w", part, err)
		}
		steps = append(steps, scriptStep{at: at, cmd: cmd})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at < steps[j].at })
	return steps, nil
}

// finisher answers the post-lesson phases so a simulation reaches complete.
func finisher(state lesson.State) (lesson.Event, bool) {
	switch state {
	case lesson.StateChallenge:
		return lesson.Complete{}, true
	case lesson.StateProve:
		return lesson.Submitted{Submission: "simulated"}, true
	case lesson.StateFeedback:
		return lesson.Complete{}, true
	}
	return nil, false
}

func simulateCmd() *cobra.Command {
	var (
		script  string
		wpm     int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate <lesson.yaml>",
		Short: "Play a lesson offline with silent audio and scripted voice commands",
		Example: `  cortexlearn simulate lessons/channels.yaml --script 3s:SIMPLIFY,6s:CONFUSED
  cortexlearn simulate lessons/channels.yaml --script 1s:SKIP --wpm 600`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			steps, err := parseScript(script)
			if err != nil {
				return err
			}
			l, err := lesson.Load(args[0])
			if err != nil {
				return err
			}

			cfg.Log.Dir = ""
			cfg.Log.Console = verbose
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			cfg.TTS.Provider = "silence"
			cfg.TTS.WordsPerMinute = wpm
			provider, err := tts.NewProvider(cfg.TTS, logger.Component("tts"))
			if err != nil {
				return err
			}

			sess, err := tutor.New(l, provider, cfg.Tutor(), tutor.WithLogger(logger.Component("tutor")))
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			done := make(chan struct{})
			var once sync.Once
			out := cmd.OutOrStdout()
			sess.Bus().SubscribeMultiple(bus.AllEventTypes(), func(e bus.Event) {
				if e.Type == bus.EventTypeWordRevealed || e.Type == bus.EventTypeSensing {
					return
				}
				fmt.Fprintf(out, "%8s  %-22s %s\n", time.Since(start).Round(time.Millisecond), e.Type, formatData(e.Data))
				if e.Type == bus.EventTypeLessonCompleted {
					once.Do(func() { close(done) })
				}
			})
			sess.Bus().Subscribe(bus.EventTypeTransition, func(e bus.Event) {
				to, _ := e.Data["to"].(string)
				if ev, ok := finisher(lesson.State(to)); ok {
					if err := sess.Dispatch(ev); err != nil {
						logger.Warn("simulate", "Dispatch failed", map[string]interface{}{"error": err.Error()})
					}
				}
			})

			if err := sess.Start(ctx); err != nil {
				return err
			}
			for _, step := range steps {
				select {
				case <-time.After(time.Until(start.Add(step.at))):
					if err := sess.Voice(step.cmd); err != nil {
						return err
					}
				case <-done:
					return nil
				case <-ctx.Done():
					return fmt.Errorf("simulation stopped: %w", ctx.Err())
				}
			}

			select {
			case <-done:
				fmt.Fprintf(out, "lesson %s complete in %s\n", l.ID, time.Since(start).Round(time.Millisecond))
				return nil
			case <-ctx.Done():
				fmt.Fprintf(os.Stderr, "last view: %+v\n", sess.Snapshot())
				return fmt.Errorf("simulation stopped: %w", ctx.Err())
			}
		},
	}

	cmd.Flags().StringVar(&script, "script", "", "scripted commands, e.g. 3s:SIMPLIFY,6s:CONFUSED")
	cmd.Flags().IntVar(&wpm, "wpm", 300, "narration speed of the silent audio")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}
