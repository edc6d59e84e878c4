// Package validation reúne reglas de formato compartidas entre la API y los servicios.
package validation

import (
	"net/url"
	"regexp"
	"strings"
)

// Tenant ID rules:
// - Start with [A-Za-z0-9].
// - Rest may include [A-Za-z0-9_.-].
// - Length 1..64.
// - Excludes whitespace, slashes and ':' (se usa como segmento de claves de cache).
var tenantIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidTenantID returns true if id matches the allowed pattern.
func ValidTenantID(id string) bool {
	return tenantIDRe.MatchString(id)
}

// WebhookURL normaliza raw y exige una URL absoluta http(s) con host.
// Retorna "" y false si no es válida.
func WebhookURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	if u.User != nil {
		return "", false
	}
	return u.String(), true
}
