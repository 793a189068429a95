package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tuannvm/zendesk-forum-sync/internal/app"
	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	forumsync "github.com/tuannvm/zendesk-forum-sync/internal/sync"
)

// setup loads configuration, initializes logging and wires the service.
// watch enables live reloading of the sync settings.
func setup(watch bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	settings := config.NewViperProvider(config.GetViper(), watch)
	a, err := app.New(cfg, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	return a, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer logging.Sync()
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := a.Settings.Settings()
			logging.Infow("starting zendesk sync",
				"addr", a.Config.Server.Addr(),
				"enabled", s.Enabled,
				"inbound", s.SyncCommentsFromRemote,
				"jobs_configured", s.JobsConfigured())

			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logging.Infof("Server shutdown complete")
			return nil
		},
	}
}

func newPushCommand() *cobra.Command {
	var postID int64
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Schedule an immediate push of one post",
		RunE: func(cmd *cobra.Command, args []string) error {
			if postID <= 0 {
				return fmt.Errorf("--post-id is required")
			}
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.Ping(ctx); err != nil {
				return err
			}
			if err := a.Queue.Schedule(ctx, forumsync.TaskPush, models.PushTask{MessageID: postID}, 0); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled push for post %d\n", postID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&postID, "post-id", 0, "Forum post id")
	return cmd
}

func newCreateTicketCommand() *cobra.Command {
	var topicID int64
	var priority string
	cmd := &cobra.Command{
		Use:   "create-ticket",
		Short: "Create the Zendesk ticket for a topic now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topicID <= 0 {
				return fmt.Errorf("--topic-id is required")
			}
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.Outbound.CreateTicketNow(cmd.Context(), topicID, priority)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic-id", 0, "Forum topic id")
	cmd.Flags().StringVar(&priority, "priority", forumsync.IssuePriority, "Ticket priority (low, normal, high, urgent)")
	return cmd
}

func newMoveCommand() *cobra.Command {
	var topicID, categoryID int64
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a topic to another category",
		Long: `Move a topic to another category. When the move crosses the boundary between
synced and unsynced categories a thread push is scheduled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if topicID <= 0 {
				return fmt.Errorf("--topic-id is required")
			}
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Ping(ctx); err != nil {
				return err
			}
			if err := a.Bus.Start(ctx); err != nil {
				return err
			}
			if err := a.Store.SetThreadCategory(ctx, topicID, categoryID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved topic %d to category %d\n", topicID, categoryID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic-id", 0, "Forum topic id")
	cmd.Flags().Int64Var(&categoryID, "category-id", 0, "Target category id (0 for uncategorized)")
	return cmd
}
