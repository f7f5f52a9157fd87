package auth0

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-bridge"
)

var (
	errKeyRetrieval = errors.New("signing keys unavailable")
	errUnknownKey   = errors.New("signing key not found")
)

// KeySource resolves token signing keys from a remote JWKS, refreshing it in
// the background and on unknown kids at most once per RefreshRateLimit. Given
// keys, such as the HS256 secret, are resolved locally.
type KeySource struct {
	url     string
	options keyfunc.Options
	given   map[string]keyfunc.GivenKey
	local   *keyfunc.JWKS
	logger  auth.Logger
	now     func() time.Time

	mu          sync.Mutex
	remote      *keyfunc.JWKS
	lastAttempt time.Time
	lastErr     error
}

// NewKeySource returns a key source for jwksURL. The first fetch happens
// immediately; when it fails the source keeps retrying on demand and
// requests fail with auth.ErrKeyRetrievalFailed in the meantime.
func NewKeySource(ctx context.Context, jwksURL string, cfg Config) (*KeySource, error) {
	if jwksURL == "" {
		return nil, auth.WrapError(auth.ErrInvalidConfig, fmt.Errorf("jwks url is required"), map[string]any{
			"provider": "auth0",
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = auth.NewZapLogger(nil)
	}

	given := map[string]keyfunc.GivenKey{}
	if cfg.HMACSecret != "" && cfg.allows("HS256") {
		given[cfg.hmacKeyID()] = keyfunc.NewGivenCustom([]byte(cfg.HMACSecret), keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}

	k := &KeySource{
		url:    jwksURL,
		given:  given,
		local:  keyfunc.NewGiven(given),
		logger: logger,
		now:    time.Now,
		options: keyfunc.Options{
			Ctx: ctx,
			RefreshErrorHandler: func(err error) {
				logger.Warn("failed to do a background refresh of JWT set", "url", jwksURL, "error", err)
			},
			RefreshInterval:   cfg.RefreshInterval,
			RefreshRateLimit:  cfg.RefreshRateLimit,
			RefreshTimeout:    cfg.RefreshTimeout,
			RefreshUnknownKID: true,
		},
	}

	if _, err := k.load(); err != nil {
		logger.Warn("initial JWKS fetch failed, retrying on demand", "url", jwksURL, "error", err)
	}

	return k, nil
}

// Keyfunc implements jwt.Keyfunc
func (k *KeySource) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no kid header", errUnknownKey)
	}

	if _, ok := k.given[kid]; ok {
		return k.local.Keyfunc(token)
	}

	remote, err := k.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errKeyRetrieval, err)
	}

	key, err := remote.Keyfunc(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnknownKey, err)
	}
	return key, nil
}

// Close stops the background refresh
func (k *KeySource) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.remote != nil {
		k.remote.EndBackground()
	}
}

func (k *KeySource) load() (*keyfunc.JWKS, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.remote != nil {
		return k.remote, nil
	}

	now := k.now()
	if !k.lastAttempt.IsZero() && now.Sub(k.lastAttempt) < k.options.RefreshRateLimit {
		return nil, k.lastErr
	}
	k.lastAttempt = now

	remote, err := keyfunc.Get(k.url, k.options)
	if err != nil {
		k.lastErr = err
		return nil, err
	}

	k.remote = remote
	k.lastErr = nil
	return remote, nil
}
