package repository

import "context"

// Store agrega los repositorios del dominio.
//
// InTx ejecuta fn dentro de una transacción: los repositorios del Store que
// recibe fn comparten la transacción. Si fn retorna error se hace rollback.
type Store interface {
	Authorizations() AuthorizationRepository
	Audit() AuditRepository
	Webhooks() WebhookRepository
	InboundEvents() InboundEventRepository
	TrustedKeys() TrustedKeyRepository

	InTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}
