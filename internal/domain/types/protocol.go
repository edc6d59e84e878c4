// Package types define tipos de dominio compartidos entre paquetes.
package types

import "strings"

// Protocol identifica la familia de una autorización. Es inmutable una vez
// creada la autorización y es la clave de la tabla de dispatch de verificadores.
type Protocol string

const (
	// ProtocolAP2 son credenciales JWT firmadas (verifiable credentials).
	ProtocolAP2 Protocol = "AP2"
	// ProtocolACP son tokens delegados emitidos por un PSP.
	ProtocolACP Protocol = "ACP"
)

// IsValid retorna true si el protocolo es conocido.
func (p Protocol) IsValid() bool {
	switch p {
	case ProtocolAP2, ProtocolACP:
		return true
	}
	return false
}

// ParseProtocol normaliza el tag (case-insensitive). Retorna false si no es conocido.
func ParseProtocol(s string) (Protocol, bool) {
	p := Protocol(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.IsValid()
}
