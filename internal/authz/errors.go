package authz

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

var (
	// ErrValidation request malformado (error del cliente, no de protocolo).
	ErrValidation = errors.New("authz: validation failed")
	// ErrInfrastructure store o truststore no disponibles.
	ErrInfrastructure = errors.New("authz: infrastructure unavailable")
	// ErrConflict otra escritura ganó todas las veces, o external_ref duplicado.
	ErrConflict = errors.New("authz: conflict")
)

func IsValidation(err error) bool     { return errors.Is(err, ErrValidation) }
func IsInfrastructure(err error) bool { return errors.Is(err, ErrInfrastructure) }
func IsConflict(err error) bool       { return errors.Is(err, ErrConflict) }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// storeErr clasifica un error del store: NotFound pasa tal cual, el resto es infraestructura.
func storeErr(op string, err error) error {
	switch {
	case repository.IsNotFound(err):
		return fmt.Errorf("authz: %s: %w", op, repository.ErrNotFound)
	case repository.IsConflict(err):
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrInfrastructure, op, err)
	}
}
