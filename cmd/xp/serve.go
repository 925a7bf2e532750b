package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"pdiquest/internal/events"
	"pdiquest/internal/lock"
	"pdiquest/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the XP API with OpenAPI at <base-path>/openapi.json and Swagger UI at /docs.
Bearer tokens are verified with PDIQUEST_JWT_SECRET. With --redis-addr, submission
locks are shared across server instances; with --kafka-brokers, awards and badge
unlocks are also published to Kafka.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PDIQUEST_JWT_SECRET is required for bearer auth")
			}
			e, closeFn, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			log := e.Log.With("component", "serve")
			redisAddr := viper.GetString("redis-addr")
			kafkaBrokers := viper.GetString("kafka-brokers")
			kafkaTopic := viper.GetString("kafka-topic")

			if redisAddr != "" {
				rl, err := lock.NewRedis(ctx, redisAddr)
				if err != nil {
					return err
				}
				defer rl.Close()
				e.Locks = rl
				log.Info("redis submission locks enabled", "addr", redisAddr)
			}
			if kafkaBrokers != "" {
				pub, err := events.NewKafkaPublisher(events.KafkaConfig{
					Brokers: splitList(kafkaBrokers),
					Topic:   kafkaTopic,
				})
				if err != nil {
					return err
				}
				defer pub.Close()
				e.Publisher = pub
				log.Info("kafka publishing enabled", "topic", kafkaTopic)
			}

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacyHeader,
					DevLogin:               devLogin,
					Logger:                 e.Log.With("component", "auth"),
					Now:                    e.Now,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("serving pdiquest API", "addr", addr, "base_path", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return server.RunWebhooks(gctx, e)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				log.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("redis-addr", "", "redis address for shared submission locks")
	cmd.Flags().String("kafka-brokers", "", "comma-separated kafka brokers")
	cmd.Flags().String("kafka-topic", "pdiquest.events", "kafka topic for engine events")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (never in production)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials")
	for _, name := range []string{"redis-addr", "kafka-brokers", "kafka-topic"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
