package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/auth"
	"github.com/xenking/pos-rewards/pkg/httpmiddleware"
)

// HeaderAPIKey carries the administrator API key.
const HeaderAPIKey = "api_key"

// ErrUnauthorized is returned for missing, unknown or mismatched keys.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator verifies API keys stored as HMAC-SHA256 hashes.
type Authenticator struct {
	keys   auth.Repository
	pepper []byte
}

func NewAuthenticator(keys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves a raw key to its stored identity.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := auth.HashKey(a.pepper, key)
	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if errors.Is(err, auth.ErrKeyNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}

	// The lookup matched by hash already; compare again in constant time so a
	// repository returning the wrong row cannot authenticate the caller.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

// Require admits requests whose API key carries scope. It answers 401 for
// bad keys and 403 for keys without the scope.
func (a *Authenticator) Require(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := a.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
			switch {
			case errors.Is(err, ErrUnauthorized):
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			case err != nil:
				zctx.From(ctx).Error("Authenticate", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
				return
			case !info.HasScope(scope):
				httpmiddleware.WriteError(w, http.StatusForbidden, "api key lacks scope "+scope)
				return
			}

			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("api_key", info.Name)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
