package truststore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/cache"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/store/memory"
)

// countingRepo cuenta lecturas y opcionalmente bloquea hasta release.
type countingRepo struct {
	repository.TrustedKeyRepository
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingRepo) ListByIssuer(ctx context.Context, issuer string) ([]*repository.TrustedKey, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.TrustedKeyRepository.ListByIssuer(ctx, issuer)
}

func seedEd25519(t *testing.T, repo repository.TrustedKeyRepository, issuer, kid string, status repository.KeyStatus) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	j, err := JWKFromPublicKey(kid, "EdDSA", pub)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), &repository.TrustedKey{
		Issuer: issuer, KID: kid, Algorithm: "EdDSA", JWK: j, Status: status, CreatedAt: time.Now(),
	}))
	return priv
}

func TestResolveKey_ByKIDAndDefault(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().TrustedKeys()
	priv := seedEd25519(t, repo, "did:example:issuer", "k1", repository.KeyStatusActive)

	r := NewCachedResolver(repo, Options{})
	k, err := r.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	assert.Equal(t, "EdDSA", k.Algorithm)
	assert.Equal(t, priv.Public(), k.Public)

	k2, err := r.ResolveKey(ctx, "did:example:issuer", "")
	require.NoError(t, err)
	assert.Equal(t, "k1", k2.KID)
}

func TestResolveKey_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().TrustedKeys()
	seedEd25519(t, repo, "did:example:issuer", "k1", repository.KeyStatusActive)
	seedEd25519(t, repo, "did:example:issuer", "revoked", repository.KeyStatusRevoked)
	r := NewCachedResolver(repo, Options{})

	_, err := r.ResolveKey(ctx, "did:example:other", "k1")
	assert.True(t, IsKeyNotFound(err))

	_, err = r.ResolveKey(ctx, "did:example:issuer", "nope")
	assert.True(t, IsKeyNotFound(err))

	_, err = r.ResolveKey(ctx, "did:example:issuer", "revoked")
	assert.True(t, IsKeyNotFound(err))
}

func TestResolveKey_RepoErrorIsInfrastructure(t *testing.T) {
	repo := &countingRepo{TrustedKeyRepository: memory.New().TrustedKeys(), err: errors.New("db down")}
	r := NewCachedResolver(repo, Options{})
	_, err := r.ResolveKey(context.Background(), "did:example:issuer", "k1")
	require.Error(t, err)
	assert.False(t, IsKeyNotFound(err))
}

func TestResolveKey_CachesUntilInvalidate(t *testing.T) {
	ctx := context.Background()
	base := memory.New().TrustedKeys()
	seedEd25519(t, base, "did:example:issuer", "k1", repository.KeyStatusActive)
	repo := &countingRepo{TrustedKeyRepository: base}
	r := NewCachedResolver(repo, Options{RefreshInterval: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := r.ResolveKey(ctx, "did:example:issuer", "k1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), repo.calls.Load())

	// clave nueva no visible hasta invalidar
	seedEd25519(t, base, "did:example:issuer", "k2", repository.KeyStatusActive)
	_, err := r.ResolveKey(ctx, "did:example:issuer", "k2")
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, r.Invalidate(ctx, "did:example:issuer"))
	_, err = r.ResolveKey(ctx, "did:example:issuer", "k2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestResolveKey_RefreshIntervalExpires(t *testing.T) {
	ctx := context.Background()
	base := memory.New().TrustedKeys()
	seedEd25519(t, base, "did:example:issuer", "k1", repository.KeyStatusActive)
	repo := &countingRepo{TrustedKeyRepository: base}
	r := NewCachedResolver(repo, Options{RefreshInterval: 20 * time.Millisecond})

	_, err := r.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = r.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestResolveKey_SharedCacheAndInvalidateAll(t *testing.T) {
	ctx := context.Background()
	base := memory.New().TrustedKeys()
	seedEd25519(t, base, "did:example:issuer", "k1", repository.KeyStatusActive)
	repo := &countingRepo{TrustedKeyRepository: base}
	shared := cache.NewMemory("test")

	// dos réplicas comparten L2
	a := NewCachedResolver(repo, Options{RefreshInterval: time.Hour, Shared: shared})
	b := NewCachedResolver(repo, Options{RefreshInterval: time.Hour, Shared: shared})

	_, err := a.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	_, err = b.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.calls.Load(), "la segunda réplica lee de L2")

	require.NoError(t, a.InvalidateAll(ctx))
	_, err = a.ResolveKey(ctx, "did:example:issuer", "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestResolveKey_CoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	base := memory.New().TrustedKeys()
	seedEd25519(t, base, "did:example:issuer", "k1", repository.KeyStatusActive)
	repo := &countingRepo{TrustedKeyRepository: base, release: make(chan struct{})}
	r := NewCachedResolver(repo, Options{RefreshInterval: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ResolveKey(ctx, "did:example:issuer", "k1")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(repo.release)
	wg.Wait()
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestJWKRoundTrip(t *testing.T) {
	ec256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ec384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cases := []struct {
		name string
		pub  any
		alg  string
	}{
		{"ed25519", edPub, "EdDSA"},
		{"p256", &ec256.PublicKey, "ES256"},
		{"p384", &ec384.PublicKey, "ES384"},
		{"rsa", &rsaKey.PublicKey, "RS256"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j, err := JWKFromPublicKey("kid", "", tc.pub)
			require.NoError(t, err)
			assert.Equal(t, tc.alg, DefaultAlgorithm(j))
			got, err := PublicKeyFromJWK(j)
			require.NoError(t, err)
			assert.True(t, tc.pub.(interface{ Equal(crypto.PublicKey) bool }).Equal(got))
		})
	}
}

func TestPublicKeyFromJWK_Unsupported(t *testing.T) {
	_, err := PublicKeyFromJWK(repository.JWK{Kty: "oct"})
	assert.ErrorIs(t, err, ErrUnsupportedKey)
	_, err = PublicKeyFromJWK(repository.JWK{Kty: "OKP", Crv: "X25519"})
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}
