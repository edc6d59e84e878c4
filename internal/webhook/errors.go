package webhook

import "errors"

var (
	// ErrValidation request o evento malformado.
	ErrValidation = errors.New("webhook: validation failed")
	// ErrSignatureInvalid firma entrante inválida. No se reintenta del lado nuestro.
	ErrSignatureInvalid = errors.New("webhook: invalid signature")
	// ErrInfrastructure store no disponible.
	ErrInfrastructure = errors.New("webhook: infrastructure unavailable")
)

func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsSignatureInvalid(err error) bool { return errors.Is(err, ErrSignatureInvalid) }
func IsInfrastructure(err error) bool   { return errors.Is(err, ErrInfrastructure) }
