package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version se setea con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var (
		cfgPath = envOr("MANDATO_CONFIG", "")
		envFile = envOr("MANDATO_ENV_FILE", "")
	)

	root := &cobra.Command{
		Use:           "mandato",
		Short:         "Motor de verificación de autorizaciones AP2/ACP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env opcional: si no se pasó --env-file se intenta ./.env sin fallar.
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("cargando %s: %w", envFile, err)
				}
				return nil
			}
			_ = godotenv.Load()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta al config.yaml (env MANDATO_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "archivo .env a cargar antes del config (env MANDATO_ENV_FILE)")

	root.AddCommand(
		serveCmd(&cfgPath),
		migrateCmd(&cfgPath),
		deliveriesCmd(&cfgPath),
		keysCmd(&cfgPath),
		&cobra.Command{
			Use:   "version",
			Short: "Imprime la versión",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
