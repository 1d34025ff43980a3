package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/followup"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/lifecycle"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/media"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/sweep"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/transcribe"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var lockPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry unfinished transcripts and follow-ups, purge stale sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(lockPath) == "" {
				lockPath = filepath.Join(os.TempDir(), "intakectl-sweep.lock")
			}
			lock := flock.New(lockPath)
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another sweep holds %s", lockPath)
			}
			defer func() { _ = lock.Unlock() }()

			logger := ctx.logger()
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				mediaOpts := []media.Option{
					media.WithDefaultModelSize(cfg.Transcription.DefaultModelSize),
					media.WithLogger(logger),
				}
				stt := transcribe.NewClient(transcribe.Config{
					BaseURL: cfg.Transcription.BaseURL,
					APIKey:  cfg.Transcription.APIKey,
					Model:   cfg.Transcription.Model,
					Timeout: cfg.Transcription.Timeout(),
				})
				if stt.Enabled() {
					mediaOpts = append(mediaOpts, media.WithTranscriber(stt))
				}
				mediaService := media.NewService(st, st, mediaOpts...)

				opts := []sweep.Option{sweep.WithTranscripts(mediaService), sweep.WithLogger(logger)}
				if strings.TrimSpace(cfg.FollowUps.APIKey) != "" {
					client := followup.NewClient(followup.ClientConfig{
						BaseURL: cfg.FollowUps.BaseURL,
						APIKey:  cfg.FollowUps.APIKey,
						Model:   cfg.FollowUps.Model,
						Timeout: time.Duration(cfg.FollowUps.TimeoutSeconds) * time.Second,
					})
					manager := lifecycle.NewManager(st,
						lifecycle.WithFollowUps(followup.NewService(st, client, followup.WithLogger(logger))),
						lifecycle.WithLogger(logger))
					opts = append(opts, sweep.WithFollowUps(manager))
				}
				if strings.TrimSpace(cfg.Redis.URL) == "" {
					opts = append(opts, sweep.WithSessions(st))
				}

				report, err := sweep.New(sweep.Config{
					TranscriptGrace:  cfg.Transcription.RetryGrace(),
					FollowUpGrace:    cfg.FollowUps.RetryGrace(),
					SessionRetention: cfg.Session.Retention(),
				}, opts...).Run(cmd.Context())

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Transcripts recovered: %d\n", report.Transcripts)
				fmt.Fprintf(out, "Follow-ups recovered:  %d\n", report.FollowUps)
				fmt.Fprintf(out, "Sessions purged:       %d\n", report.SessionsPurged)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&lockPath, "lock", "", "Lock file that keeps sweeps from overlapping")
	return cmd
}
