package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// ─── Negocio ───

// TenantID crea un campo para el ID del tenant.
func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

// AuthorizationID crea un campo para el ID de la autorización.
func AuthorizationID(v string) zap.Field { return zap.String("authorization_id", v) }

// Protocol crea un campo para el protocolo (AP2 | ACP).
func Protocol(v string) zap.Field { return zap.String("protocol", v) }

// VerificationStatus crea un campo para el resultado de verificación.
func VerificationStatus(v string) zap.Field { return zap.String("verification_status", v) }

// Issuer crea un campo para el emisor (DID o PSP).
func Issuer(v string) zap.Field { return zap.String("issuer", v) }

// KID crea un campo para el key id.
func KID(v string) zap.Field { return zap.String("kid", v) }

// ─── Webhooks ───

func EventID(v string) zap.Field        { return zap.String("event_id", v) }
func EventType(v string) zap.Field      { return zap.String("event_type", v) }
func SubscriptionID(v string) zap.Field { return zap.String("subscription_id", v) }
func DeliveryID(v string) zap.Field     { return zap.String("delivery_id", v) }
func Attempt(v int) zap.Field           { return zap.Int("attempt", v) }

// ─── Sistema ───

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field           { return zap.Int("count", v) }
func String(key, v string) zap.Field  { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
