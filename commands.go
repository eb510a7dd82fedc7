package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitwise74/reactions-api/app"
	"bitwise74/reactions-api/config"
	"bitwise74/reactions-api/db"
	"bitwise74/reactions-api/internal"
	"bitwise74/reactions-api/internal/linker"
	"bitwise74/reactions-api/internal/model"
	"bitwise74/reactions-api/internal/notify"
	"bitwise74/reactions-api/internal/repository"
	"bitwise74/reactions-api/internal/storage"
	"bitwise74/reactions-api/internal/vendorcfg"
	"bitwise74/reactions-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	var (
		cfgPath string
		flush   func()
	)

	root := &cobra.Command{
		Use:           "reactions-api",
		Short:         "Media attachment ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Setup(cfgPath, cmd.Flags()); err != nil {
				return err
			}

			var err error
			flush, err = logger.Setup(logger.Config{
				Level: v.GetString("app.log_level"),
				File:  v.GetString("app.log_file"),
			})
			if err != nil {
				return err
			}

			if v.GetString("app.log_level") != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if flush != nil {
				flush()
			}
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the config file (default ./config.toml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")

	root.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newVendorCommand(),
		newJanitorCommand(),
		newConversationCommand(),
	)

	return root
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			d, err := internal.NewDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if d.Janitor != nil {
				if err := d.Janitor.Start(v.GetString("janitor.schedule")); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", v.GetInt("host.port")),
				Handler:           app.NewRouter(ctx, d),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					zap.L().Error("Failed to shut down server", zap.Error(err))
				}
			}()

			zap.L().Info("Server starting", zap.String("addr", srv.Addr), zap.String("storage", v.GetString("storage.type")))

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to run server, %w", err)
			}

			zap.L().Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().Int("port", 8080, "port to listen on")
	cmd.Flags().String("storage", "s3", "object store (s3, r2, minio, memory)")

	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, err := db.New(v.GetString("database.driver"), v.GetString("database.dsn"))
			if err != nil {
				return err
			}

			srv := asynq.NewServer(asynq.RedisClientOpt{
				Addr:     v.GetString("redis.addr"),
				Password: v.GetString("redis.password"),
				DB:       v.GetInt("redis.db"),
			}, asynq.Config{
				Concurrency: v.GetInt("notify.concurrency"),
			})

			processor := notify.NewProcessor(repository.New(gdb))
			if err := srv.Start(processor.Handler()); err != nil {
				return fmt.Errorf("failed to start worker, %w", err)
			}

			zap.L().Info("Worker started")
			<-cmd.Context().Done()

			srv.Shutdown()
			zap.L().Info("Worker stopped")
			return nil
		},
	}
}

func newVendorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Manage external vendor credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Copy every vendor config from the database into redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, err := db.New(v.GetString("database.driver"), v.GetString("database.dsn"))
			if err != nil {
				return err
			}

			rdb := vendorcfg.NewRedis(v.GetString("redis.addr"), v.GetString("redis.password"), v.GetInt("redis.db"))
			defer rdb.Close()

			r := vendorcfg.NewResolver(rdb, repository.New(gdb), internal.FallbackCredentials(), v.GetDuration("storage.vendor_cache_ttl"))

			n, err := r.Sync(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d vendor configs\n", n)
			return nil
		},
	})

	return cmd
}

func newJanitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Abort stale multipart uploads once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			gdb, err := db.New(v.GetString("database.driver"), v.GetString("database.dsn"))
			if err != nil {
				return err
			}

			rdb := vendorcfg.NewRedis(v.GetString("redis.addr"), v.GetString("redis.password"), v.GetInt("redis.db"))
			defer rdb.Close()

			s, err := internal.OpenStore(ctx, repository.New(gdb), rdb)
			if err != nil {
				return err
			}

			lister, ok := s.(storage.UploadLister)
			if !ok {
				return fmt.Errorf("storage %q can't list pending uploads", v.GetString("storage.type"))
			}

			n, err := storage.NewJanitor(s, lister, v.GetDuration("janitor.stale_after"),
				storage.PrefixAudioReactions, storage.PrefixChatAttachments).Sweep(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "aborted %d stale uploads\n", n)
			return nil
		},
	}
}

func newConversationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversation members",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "join <reaction|chat> <ref> <user>...",
		Short: "Add users to the members of a conversation",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != model.ConversationReaction && kind != model.ConversationChat {
				return fmt.Errorf("unknown conversation kind %q", kind)
			}

			gdb, err := db.New(v.GetString("database.driver"), v.GetString("database.dsn"))
			if err != nil {
				return err
			}

			repo := repository.New(gdb)
			convID := linker.ConversationID(kind, args[1])

			if err := repo.Join(cmd.Context(), convID, kind, args[2:]...); err != nil {
				return err
			}

			members, err := repo.Participants(cmd.Context(), convID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", convID, strings.Join(members, ", "))
			return nil
		},
	})

	return cmd
}
