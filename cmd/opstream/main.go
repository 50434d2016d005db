package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meridianhq/opstream/internal/config"
	"github.com/meridianhq/opstream/internal/emitter"
	"github.com/meridianhq/opstream/internal/envelope"
	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/router"
	streamredis "github.com/meridianhq/opstream/internal/stream/redis"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.dev")

	var (
		cfgPath = envOr("OPSTREAM_CONFIG", "config.yaml")
		cfg     *config.Config
		slog    *streamredis.Log
	)

	root := &cobra.Command{
		Use:   "opstream",
		Short: "CLI operativa del pipeline de operaciones",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				cfg, err = config.Load(cfgPath)
			} else {
				cfg, err = config.Default()
			}
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: "warn", ServiceName: "opstream-cli"})
			slog = streamredis.New(streamredis.Options{
				Addr:     cfg.Stream.Redis.Addr,
				DB:       cfg.Stream.Redis.DB,
				Password: cfg.Stream.Redis.Password,
				Name:     cfg.Stream.Name,
				Shards:   cfg.Stream.Shards,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if slog != nil {
				_ = slog.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta del config YAML (env OPSTREAM_CONFIG)")

	// emit: appendea un envelope al log (producer de prueba)
	var (
		emOp, emTenant, emLocation, emType, emResourceID, emData string
	)
	emitCmd := &cobra.Command{
		Use:   "emit",
		Short: "Emitir un envelope de operación al log",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := &envelope.Envelope{
				Operation:    envelope.Op(emOp),
				TenantID:     emTenant,
				LocationID:   emLocation,
				ResourceType: emType,
				ResourceID:   emResourceID,
			}
			if emData != "" {
				if err := json.Unmarshal([]byte(emData), &env.Data); err != nil {
					return fmt.Errorf("--data no es JSON valido: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			shardID, err := emitter.New(slog).Emit(ctx, env)
			if err != nil {
				return err
			}
			fmt.Printf("appended shard=%s requestId=%s\n", shardID, env.RequestID)
			return nil
		},
	}
	emitCmd.Flags().StringVar(&emOp, "operation", "", "create|update|patch|delete")
	emitCmd.Flags().StringVar(&emTenant, "tenant", "", "Tenant ID")
	emitCmd.Flags().StringVar(&emLocation, "location", "", "Location ID")
	emitCmd.Flags().StringVar(&emType, "type", "", "Tipo de recurso (ej. appointments)")
	emitCmd.Flags().StringVar(&emResourceID, "resource-id", "", "Resource ID (update|patch|delete)")
	emitCmd.Flags().StringVar(&emData, "data", "", "Payload JSON del recurso")
	_ = emitCmd.MarkFlagRequired("operation")
	_ = emitCmd.MarkFlagRequired("tenant")
	_ = emitCmd.MarkFlagRequired("location")
	_ = emitCmd.MarkFlagRequired("type")

	// shards: estado del log particionado
	shardsCmd := &cobra.Command{
		Use:   "shards",
		Short: "Listar shards del log y su largo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			shards, err := slog.ListShards(ctx)
			if err != nil {
				return err
			}
			for _, sh := range shards {
				n, err := slog.Len(ctx, sh.ID)
				if err != nil {
					return err
				}
				fmt.Printf("shard=%s entries=%d\n", sh.ID, n)
			}
			return nil
		},
	}

	// close-shard: marca fin de shard (drenaje)
	var closeShardID string
	closeCmd := &cobra.Command{
		Use:   "close-shard",
		Short: "Marcar un shard del log como terminado",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := slog.CloseShard(ctx, closeShardID); err != nil {
				return err
			}
			fmt.Printf("shard=%s closed\n", closeShardID)
			return nil
		},
	}
	closeCmd.Flags().StringVar(&closeShardID, "shard", "", "ID del shard del log")
	_ = closeCmd.MarkFlagRequired("shard")

	// grupo router: contra el coordinador de shards del store
	routerCmd := &cobra.Command{
		Use:   "router",
		Short: "Operaciones contra el coordinador de shards del store",
	}

	newRouter := func() *router.Client {
		return router.New(router.Options{
			BaseURL: cfg.Router.BaseURL,
			APIKey:  cfg.Router.APIKey,
			Timeout: cfg.RouterTimeout(),
		})
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Salud de todos los shards del store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			shards, err := newRouter().Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(shards)
		},
	}

	var regTenant, regLocation, regHint string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Registrar un tenant-location nuevo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			conn, err := newRouter().Register(ctx, regTenant, regLocation, regHint)
			if err != nil {
				return err
			}
			return printJSON(conn)
		},
	}
	registerCmd.Flags().StringVar(&regTenant, "tenant", "", "Tenant ID")
	registerCmd.Flags().StringVar(&regLocation, "location", "", "Location ID")
	registerCmd.Flags().StringVar(&regHint, "hint", "", "Resource kind hint (opcional)")
	_ = registerCmd.MarkFlagRequired("tenant")
	_ = registerCmd.MarkFlagRequired("location")

	var capShardID string
	capacityCmd := &cobra.Command{
		Use:   "capacity",
		Short: "Consultar si un shard del store acepta negocios nuevos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			ok, err := newRouter().Capacity(ctx, capShardID)
			if err != nil {
				return err
			}
			fmt.Printf("shard=%s canAcceptNewBusiness=%v\n", capShardID, ok)
			return nil
		},
	}
	capacityCmd.Flags().StringVar(&capShardID, "shard", "", "ID del shard del store (ej. shard-1)")
	_ = capacityCmd.MarkFlagRequired("shard")

	routerCmd.AddCommand(healthCmd, registerCmd, capacityCmd)
	root.AddCommand(emitCmd, shardsCmd, closeCmd, routerCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
