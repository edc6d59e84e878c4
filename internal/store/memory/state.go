package memory

import "github.com/dropDatabas3/mandato/internal/domain/repository"

// state guarda siempre copias: nunca se muta un puntero almacenado, se
// reemplaza. Así clone() puede copiar los maps de forma superficial.
type state struct {
	auths      map[string]*repository.Authorization
	audit      []*repository.AuditEvent
	subs       map[string]*repository.Subscription
	deliveries map[string]*repository.Delivery
	attempts   []*repository.DeliveryAttempt
	inbound    map[string]*repository.InboundEvent
	keys       map[string]*repository.TrustedKey
}

func newState() *state {
	return &state{
		auths:      map[string]*repository.Authorization{},
		subs:       map[string]*repository.Subscription{},
		deliveries: map[string]*repository.Delivery{},
		inbound:    map[string]*repository.InboundEvent{},
		keys:       map[string]*repository.TrustedKey{},
	}
}

func (st *state) clone() *state {
	c := &state{
		auths:      make(map[string]*repository.Authorization, len(st.auths)),
		audit:      append([]*repository.AuditEvent(nil), st.audit...),
		subs:       make(map[string]*repository.Subscription, len(st.subs)),
		deliveries: make(map[string]*repository.Delivery, len(st.deliveries)),
		attempts:   append([]*repository.DeliveryAttempt(nil), st.attempts...),
		inbound:    make(map[string]*repository.InboundEvent, len(st.inbound)),
		keys:       make(map[string]*repository.TrustedKey, len(st.keys)),
	}
	for k, v := range st.auths {
		c.auths[k] = v
	}
	for k, v := range st.subs {
		c.subs[k] = v
	}
	for k, v := range st.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range st.inbound {
		c.inbound[k] = v
	}
	for k, v := range st.keys {
		c.keys[k] = v
	}
	return c
}
