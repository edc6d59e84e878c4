// Package repository define las entidades y las interfaces de repositorio de dominio.
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente (PostgreSQL o memoria).
//
// Las implementaciones concretas viven en internal/store/{pg,memory}.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│      authz.Service / webhook.Dispatcher / Ingestor  │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  Authorizations, Audit, Webhooks, InboundEvents     │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	              ┌─────────┴─────────┐
//	              ▼                   ▼
//	       ┌─────────────┐     ┌─────────────┐
//	       │  store/pg   │     │ store/memory│
//	       └─────────────┘     └─────────────┘
//
// Convenciones:
//   - TenantID se pasa explícitamente en métodos que lo requieren
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
//   - Las unidades atómicas (check-and-apply) usan Store.InTx
package repository
