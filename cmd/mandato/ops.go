package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/store"
	"github.com/dropDatabas3/mandato/internal/store/pg"
	"github.com/dropDatabas3/mandato/internal/truststore"
)

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones pendientes de postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrate requiere storage.driver=postgres")
			}
			ctx := cmd.Context()
			st, err := pg.New(ctx, pg.Config{
				DSN:          cfg.Storage.DSN,
				MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
				MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
			}, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := store.Migrate(ctx, st)
			if res != nil {
				fmt.Printf("applied=%v skipped=%d took=%s\n", res.Applied, len(res.Skipped), res.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
}

func deliveriesCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Operaciones sobre entregas de webhooks",
	}

	var tenant, sub string
	retry := &cobra.Command{
		Use:   "retry",
		Short: "Reencola las entregas FAILED de una suscripción",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || sub == "" {
				return errors.New("--tenant y --subscription son requeridos")
			}
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.dispatcher.RetryFailed(cmd.Context(), tenant, sub)
			if err != nil {
				return err
			}
			fmt.Printf("requeued=%d\n", n)
			return nil
		},
	}
	retry.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	retry.Flags().StringVar(&sub, "subscription", "", "subscription id")

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Lista los intentos de entrega de una suscripción",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || sub == "" {
				return errors.New("--tenant y --subscription son requeridos")
			}
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			attempts, err := a.dispatcher.History(cmd.Context(), tenant, sub, limit)
			if err != nil {
				return err
			}
			for _, at := range attempts {
				fmt.Printf("%s  delivery=%s attempt=%d %s code=%d err=%q\n",
					at.CreatedAt.Format(time.RFC3339), at.DeliveryID, at.AttemptNumber, at.Status, at.ResponseCode, at.Error)
			}
			return nil
		},
	}
	history.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	history.Flags().StringVar(&sub, "subscription", "", "subscription id")
	history.Flags().IntVar(&limit, "limit", 100, "máximo de intentos")

	cmd.AddCommand(retry, history)
	return cmd
}

func keysCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Gestión del truststore de emisores AP2",
	}

	var issuer, file, status string
	add := &cobra.Command{
		Use:   "add",
		Short: "Registra (o reemplaza) una clave pública JWK de un emisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if issuer == "" || file == "" {
				return errors.New("--issuer y --jwk son requeridos")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var jwk repository.JWK
			if err := json.Unmarshal(raw, &jwk); err != nil {
				return fmt.Errorf("jwk inválida: %w", err)
			}
			if jwk.KID == "" {
				return errors.New("la jwk no tiene kid")
			}
			if _, err := truststore.PublicKeyFromJWK(jwk); err != nil {
				return err
			}
			ks := repository.KeyStatus(strings.ToLower(status))
			switch ks {
			case repository.KeyStatusActive, repository.KeyStatusRetired, repository.KeyStatusRevoked:
			default:
				return fmt.Errorf("status inválido %q (active|retired|revoked)", status)
			}

			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			k := &repository.TrustedKey{
				Issuer:    issuer,
				KID:       jwk.KID,
				Algorithm: truststore.DefaultAlgorithm(jwk),
				JWK:       jwk,
				Status:    ks,
				CreatedAt: time.Now().UTC(),
			}
			if err := a.store.TrustedKeys().Upsert(cmd.Context(), k); err != nil {
				return err
			}
			// las réplicas con cache L1 la ven al vencer refresh_interval
			if err := a.keys.Invalidate(cmd.Context(), issuer); err != nil {
				return err
			}
			fmt.Printf("key %s/%s %s\n", issuer, jwk.KID, ks)
			return nil
		},
	}
	add.Flags().StringVar(&issuer, "issuer", "", "DID del emisor")
	add.Flags().StringVar(&file, "jwk", "", "archivo con la JWK pública")
	add.Flags().StringVar(&status, "status", string(repository.KeyStatusActive), "active|retired|revoked")

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista las claves de un emisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if issuer == "" {
				return errors.New("--issuer es requerido")
			}
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			keys, err := a.store.TrustedKeys().ListByIssuer(cmd.Context(), issuer)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Printf("%s\t%s\t%s\t%s\n", k.KID, k.Algorithm, k.Status, k.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&issuer, "issuer", "", "DID del emisor")

	cmd.AddCommand(add, list)
	return cmd
}
