package types

// Status es el estado de ciclo de vida de una autorización.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusValid   Status = "VALID"
	StatusExpired Status = "EXPIRED"
	// StatusInvalid agrupa los fallos criptográficos o de reglas (SIG_INVALID, SCOPE_INVALID, ...).
	StatusInvalid Status = "INVALID"
	// StatusRevoked es terminal.
	StatusRevoked Status = "REVOKED"
)

// IsValid retorna true si el status es conocido.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusValid, StatusExpired, StatusInvalid, StatusRevoked:
		return true
	}
	return false
}

// IsTerminal indica si no se aceptan más transiciones.
func (s Status) IsTerminal() bool { return s == StatusRevoked }

// CanTransition valida una transición de la máquina de estados.
// Desde REVOKED no se sale; cualquier otro estado puede pasar a cualquier
// estado conocido (la re-verificación deriva el nuevo estado del resultado).
func CanTransition(from, to Status) bool {
	if !to.IsValid() {
		return false
	}
	return !from.IsTerminal()
}

// VerificationStatus es el código machine-readable de un resultado de verificación.
type VerificationStatus string

const (
	VerificationValid VerificationStatus = "VALID"

	// Compartidos AP2/ACP
	VerificationInvalidFormat VerificationStatus = "INVALID_FORMAT"
	VerificationExpired       VerificationStatus = "EXPIRED"

	// AP2
	VerificationIssuerUnknown        VerificationStatus = "ISSUER_UNKNOWN"
	VerificationSigInvalid           VerificationStatus = "SIG_INVALID"
	VerificationMissingRequiredField VerificationStatus = "MISSING_REQUIRED_FIELD"
	VerificationScopeInvalid         VerificationStatus = "SCOPE_INVALID"

	// ACP
	VerificationAmountInvalid       VerificationStatus = "AMOUNT_INVALID"
	VerificationConstraintViolation VerificationStatus = "CONSTRAINT_VIOLATION"
	VerificationPSPNotAllowed       VerificationStatus = "PSP_NOT_ALLOWED"
)

// StatusFor deriva el Status de la autorización a partir del resultado de
// verificación. Es el único mapeo permitido: así status y verification_status
// nunca quedan inconsistentes.
func StatusFor(v VerificationStatus) Status {
	switch v {
	case VerificationValid:
		return StatusValid
	case VerificationExpired:
		return StatusExpired
	default:
		return StatusInvalid
	}
}
