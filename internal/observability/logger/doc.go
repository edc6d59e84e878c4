// Package logger provee el logger Zap del servicio, singleton con scoping por contexto.
//
//   - Init(Config) una vez en main; L() devuelve el singleton (dev/info por defecto).
//   - From(ctx) devuelve el logger "scoped" inyectado por el middleware HTTP
//     (request_id, tenant_id) o el singleton si no hay ninguno.
//   - "dev" usa consola con colores, "prod" usa JSON ISO8601.
//
// Los campos estándar (TenantID, AuthorizationID, EventID, ...) viven en fields.go
// para que todos los componentes logueen con las mismas claves.
package logger
