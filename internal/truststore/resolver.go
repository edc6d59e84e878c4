package truststore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/mandato/internal/cache"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultResolveTimeout  = 2 * time.Second

	sharedGenKey = "truststore:gen"
)

// Options configuración del CachedResolver.
type Options struct {
	// RefreshInterval TTL de L1 y L2: cada cuánto se relee la fuente de verdad.
	RefreshInterval time.Duration
	// ResolveTimeout cota por llamada a L2 + repositorio.
	ResolveTimeout time.Duration
	// Shared cache L2 opcional (memory o redis).
	Shared cache.Client
	Logger *zap.Logger
}

// CachedResolver implementa Resolver con cache de dos niveles.
type CachedResolver struct {
	repo    repository.TrustedKeyRepository
	local   *gocache.Cache
	shared  cache.Client
	group   singleflight.Group
	refresh time.Duration
	timeout time.Duration
	log     *zap.Logger

	// gen es la generación L2 conocida; InvalidateAll la rota.
	genMu sync.Mutex
	gen   string
}

var _ Resolver = (*CachedResolver)(nil)

// NewCachedResolver crea un resolver sobre repo.
func NewCachedResolver(repo repository.TrustedKeyRepository, opts Options) *CachedResolver {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("truststore")
	}
	return &CachedResolver{
		repo:    repo,
		local:   gocache.New(opts.RefreshInterval, 2*opts.RefreshInterval),
		shared:  opts.Shared,
		refresh: opts.RefreshInterval,
		timeout: opts.ResolveTimeout,
		log:     opts.Logger,
	}
}

// ResolveKey retorna la clave (issuer, keyID). keyID vacío = primera clave activa.
func (r *CachedResolver) ResolveKey(ctx context.Context, issuer, keyID string) (*Key, error) {
	if issuer == "" {
		return nil, fmt.Errorf("%w: empty issuer", ErrKeyNotFound)
	}
	set, err := r.keySet(ctx, issuer)
	if err != nil {
		return nil, err
	}
	k, ok := set.pick(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: issuer=%s kid=%s", ErrKeyNotFound, issuer, keyID)
	}
	return k, nil
}

// Invalidate descarta el key-set cacheado de un emisor (L1 y L2).
func (r *CachedResolver) Invalidate(ctx context.Context, issuer string) error {
	r.local.Delete(issuer)
	if r.shared == nil {
		return nil
	}
	gen, err := r.generation(ctx)
	if err != nil {
		return err
	}
	return r.shared.Delete(ctx, sharedKey(gen, issuer))
}

// InvalidateAll descarta todo: vacía L1 y rota la generación de L2, lo que
// deja huérfanas (hasta su TTL) las entradas de todas las réplicas.
func (r *CachedResolver) InvalidateAll(ctx context.Context) error {
	r.local.Flush()
	if r.shared == nil {
		return nil
	}
	gen := uuid.NewString()
	if err := r.shared.Set(ctx, sharedGenKey, gen, 0); err != nil {
		return fmt.Errorf("truststore: rotate generation: %w", err)
	}
	r.genMu.Lock()
	r.gen = gen
	r.genMu.Unlock()
	return nil
}

func (r *CachedResolver) keySet(ctx context.Context, issuer string) (*keySet, error) {
	if v, ok := r.local.Get(issuer); ok {
		return v.(*keySet), nil
	}

	// Un solo load por emisor aunque lleguen N verificaciones a la vez.
	v, err, _ := r.group.Do(issuer, func() (any, error) {
		lctx, cancel := withTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		stored, err := r.load(lctx, issuer)
		if err != nil {
			return nil, err
		}
		set := buildKeySet(stored, func(k *repository.TrustedKey, err error) {
			r.log.Warn("skipping unusable trusted key",
				logger.Issuer(k.Issuer), logger.KID(k.KID), logger.Err(err))
		})
		r.local.Set(issuer, set, r.refresh)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

// load lee de L2 y, si no está, del repositorio (y puebla L2).
func (r *CachedResolver) load(ctx context.Context, issuer string) ([]*repository.TrustedKey, error) {
	if r.shared == nil {
		return r.fromRepo(ctx, issuer)
	}

	gen, err := r.generation(ctx)
	if err != nil {
		// L2 caído no debe tumbar la verificación: vamos directo a la fuente.
		r.log.Warn("truststore shared cache unavailable", logger.Err(err))
		return r.fromRepo(ctx, issuer)
	}
	key := sharedKey(gen, issuer)

	if raw, err := r.shared.Get(ctx, key); err == nil {
		var stored []*repository.TrustedKey
		if err := json.Unmarshal([]byte(raw), &stored); err == nil {
			return stored, nil
		}
		r.log.Warn("discarding corrupt cached key-set", logger.Issuer(issuer))
	} else if !cache.IsNotFound(err) {
		r.log.Warn("truststore shared cache get failed", logger.Issuer(issuer), logger.Err(err))
	}

	stored, err := r.fromRepo(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(stored); err == nil {
		if err := r.shared.Set(ctx, key, string(b), r.refresh); err != nil {
			r.log.Warn("truststore shared cache set failed", logger.Issuer(issuer), logger.Err(err))
		}
	}
	return stored, nil
}

func (r *CachedResolver) fromRepo(ctx context.Context, issuer string) ([]*repository.TrustedKey, error) {
	stored, err := r.repo.ListByIssuer(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("truststore: load keys for %s: %w", issuer, err)
	}
	return stored, nil
}

// generation lee (o inicializa) la generación compartida de L2.
func (r *CachedResolver) generation(ctx context.Context) (string, error) {
	raw, err := r.shared.Get(ctx, sharedGenKey)
	switch {
	case err == nil:
		r.genMu.Lock()
		r.gen = raw
		r.genMu.Unlock()
		return raw, nil
	case cache.IsNotFound(err):
		r.genMu.Lock()
		defer r.genMu.Unlock()
		if r.gen == "" {
			r.gen = "0"
		}
		if err := r.shared.Set(ctx, sharedGenKey, r.gen, 0); err != nil {
			return "", err
		}
		return r.gen, nil
	default:
		return "", err
	}
}

func sharedKey(gen, issuer string) string {
	return "truststore:" + gen + ":" + issuer
}
