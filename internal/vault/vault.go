// Package vault implements the Credential Vault. Tokens are encrypted at
// rest with an authenticated symmetric cipher; the key is an explicit
// constructor parameter rather than read ambiently from the environment
// inside this package, which is what lets tests supply a deterministic
// key and lets operators rotate keys with a cutover window, following the
// same "secret + previous secret during a rotation grace window" shape
// used for bearer-token signing, generalized from HMAC signing to AEAD
// encryption.
package vault

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// Clock is injectable for deterministic tests.
type Clock func() time.Time

// Vault manages ExternalIntegrationCredential rows.
type Vault struct {
	store      *store.Store
	aead       *aeadPair
	refreshSkew time.Duration
	now        Clock
	logger     *log.Logger

	// refreshers maps provider -> the function that exchanges a refresh
	// token for a new access token. Registered by callers at startup.
	refreshers map[string]RefreshFunc
}

// RefreshFunc exchanges a refresh token for a new access/refresh token pair
// and expiry. Implemented per partner in internal/integrations.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, refreshTokenOut string, expiresAt time.Time, err error)

type aeadPair struct {
	current  []byte // 32-byte chacha20poly1305 key
	previous []byte // optional, for rotation
}

// New creates a vault. keyHex is a 64-char hex-encoded 32-byte key;
// previousKeyHex, if non-empty, is tried on decrypt failures during a
// rotation window.
func New(st *store.Store, keyHex, previousKeyHex string, refreshSkew time.Duration) (*Vault, error) {
	key, err := decodeKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid encryption key: %w", err)
	}
	var prev []byte
	if previousKeyHex != "" {
		prev, err = decodeKey(previousKeyHex)
		if err != nil {
			return nil, fmt.Errorf("vault: invalid previous encryption key: %w", err)
		}
	}
	if refreshSkew <= 0 {
		refreshSkew = 5 * time.Minute
	}
	return &Vault{
		store:       st,
		aead:        &aeadPair{current: key, previous: prev},
		refreshSkew: refreshSkew,
		now:         time.Now,
		logger:      log.New(log.Writer(), "[VAULT] ", log.LstdFlags),
		refreshers:  make(map[string]RefreshFunc),
	}, nil
}

func decodeKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		// Development fallback: deterministic, obviously-not-secret key.
		hexKey = "0000000000000000000000000000000000000000000000000000000000000001"[:64]
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// RegisterRefresher wires the partner-specific refresh call for a provider.
func (v *Vault) RegisterRefresher(provider string, fn RefreshFunc) {
	v.refreshers[provider] = fn
}

func (v *Vault) encrypt(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.aead.current)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (v *Vault) decrypt(ciphertext []byte) (string, error) {
	if pt, err := v.decryptWith(v.aead.current, ciphertext); err == nil {
		return pt, nil
	}
	if v.aead.previous != nil {
		if pt, err := v.decryptWith(v.aead.previous, ciphertext); err == nil {
			return pt, nil
		}
	}
	return "", errors.New("vault: decryption failed with current and previous keys")
}

func (v *Vault) decryptWith(key, ciphertext []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Store persists a freshly obtained token pair for a provider.
func (v *Vault) Store(ctx context.Context, provider, accessToken, refreshToken string, expiresAt time.Time, scope *string) error {
	accessEnc, err := v.encrypt(accessToken)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "encrypt access token", err)
	}
	refreshEnc, err := v.encrypt(refreshToken)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "encrypt refresh token", err)
	}
	return v.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO external_integration_credentials
				(provider, access_token_enc, refresh_token_enc, expires_at, scope, requires_reauth, updated_at)
			VALUES ($1, $2, $3, $4, $5, false, now())
			ON CONFLICT (provider) DO UPDATE SET
				access_token_enc = EXCLUDED.access_token_enc,
				refresh_token_enc = EXCLUDED.refresh_token_enc,
				expires_at = EXCLUDED.expires_at,
				scope = EXCLUDED.scope,
				requires_reauth = false,
				updated_at = now()`,
			provider, accessEnc, refreshEnc, expiresAt, scope)
		return err
	})
}

// EnsureValidToken returns a non-expired access token for provider,
// refreshing proactively when expiry is within the configured skew.
// Refresh happens under a provider-scoped advisory lock and re-reads the
// row after acquiring to avoid a dueling refresh.
func (v *Vault) EnsureValidToken(ctx context.Context, provider string) (string, error) {
	cred, err := v.load(ctx, provider)
	if err != nil {
		return "", err
	}
	if cred.RequiresReauth {
		return "", apierr.New(apierr.CredentialExpired, fmt.Sprintf("credential for %s requires re-authentication", provider))
	}
	if v.now().Add(v.refreshSkew).Before(cred.ExpiresAt) {
		return v.decrypt(cred.AccessTokenEnc)
	}

	var accessToken string
	var reauthErr error
	err = v.store.AdvisoryLock(ctx, "credential_refresh", provider, func(ctx context.Context, tx *store.Tx) error {
		cred, err := v.loadTx(ctx, tx, provider)
		if err != nil {
			return err
		}
		if cred.RequiresReauth {
			return apierr.New(apierr.CredentialExpired, fmt.Sprintf("credential for %s requires re-authentication", provider))
		}
		// Re-check after acquiring the lock: another goroutine/process may
		// have refreshed it already.
		if v.now().Add(v.refreshSkew).Before(cred.ExpiresAt) {
			accessToken, err = v.decrypt(cred.AccessTokenEnc)
			return err
		}

		refresher, ok := v.refreshers[provider]
		if !ok {
			return apierr.New(apierr.Internal, fmt.Sprintf("no refresher registered for provider %s", provider))
		}
		refreshToken, err := v.decrypt(cred.RefreshTokenEnc)
		if err != nil {
			return apierr.Wrap(apierr.Internal, "decrypt refresh token", err)
		}

		newAccess, newRefresh, newExpiry, rerr := refresher(ctx, refreshToken)
		if rerr != nil {
			v.logger.Printf("refresh failed for provider=%s: %v", provider, rerr)
			if isAuthClassError(rerr) {
				if _, err := tx.Exec(ctx, `UPDATE external_integration_credentials SET requires_reauth = true, updated_at = now() WHERE provider = $1`, provider); err != nil {
					return err
				}
				// Return nil so the requires_reauth flag commits; the
				// error is reported once the transaction has finished.
				reauthErr = apierr.New(apierr.CredentialExpired, fmt.Sprintf("credential for %s requires re-authentication", provider))
				return nil
			}
			return apierr.Wrap(apierr.UpstreamUnavailable, "token refresh failed", rerr)
		}

		accessEnc, err := v.encrypt(newAccess)
		if err != nil {
			return err
		}
		refreshEnc, err := v.encrypt(newRefresh)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE external_integration_credentials
			SET access_token_enc = $1, refresh_token_enc = $2, expires_at = $3, updated_at = now()
			WHERE provider = $4`, accessEnc, refreshEnc, newExpiry, provider); err != nil {
			return err
		}
		accessToken = newAccess
		return nil
	})
	if err != nil {
		return "", err
	}
	if reauthErr != nil {
		return "", reauthErr
	}
	return accessToken, nil
}

// InvalidateToken force-expires a provider's access token so the next
// EnsureValidToken performs a refresh under the advisory lock; partner
// clients call this when the partner rejects a token with a 401 before
// its recorded expiry.
func (v *Vault) InvalidateToken(ctx context.Context, provider string) error {
	_, err := v.store.Exec(ctx, `UPDATE external_integration_credentials SET expires_at = now(), updated_at = now() WHERE provider = $1`, provider)
	return err
}

// MarkReauthRequired flags a credential as needing operator rebind;
// supplying fresh tokens via Store clears the flag.
func (v *Vault) MarkReauthRequired(ctx context.Context, provider string) error {
	_, err := v.store.Exec(ctx, `UPDATE external_integration_credentials SET requires_reauth = true, updated_at = now() WHERE provider = $1`, provider)
	return err
}

func (v *Vault) load(ctx context.Context, provider string) (*models.ExternalIntegrationCredential, error) {
	var cred models.ExternalIntegrationCredential
	err := v.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&cred.Provider, &cred.AccessTokenEnc, &cred.RefreshTokenEnc, &cred.ExpiresAt, &cred.Scope, &cred.RequiresReauth, &cred.UpdatedAt)
	}, `SELECT provider, access_token_enc, refresh_token_enc, expires_at, scope, requires_reauth, updated_at
		FROM external_integration_credentials WHERE provider = $1`, provider)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("no credential stored for provider %s", provider)
		}
		return nil, err
	}
	return &cred, nil
}

func (v *Vault) loadTx(ctx context.Context, tx *store.Tx, provider string) (*models.ExternalIntegrationCredential, error) {
	var cred models.ExternalIntegrationCredential
	err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&cred.Provider, &cred.AccessTokenEnc, &cred.RefreshTokenEnc, &cred.ExpiresAt, &cred.Scope, &cred.RequiresReauth, &cred.UpdatedAt)
	}, `SELECT provider, access_token_enc, refresh_token_enc, expires_at, scope, requires_reauth, updated_at
		FROM external_integration_credentials WHERE provider = $1 FOR UPDATE`, provider)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("no credential stored for provider %s", provider)
		}
		return nil, err
	}
	return &cred, nil
}

// isAuthClassError reports whether a refresh error looks like an
// authentication failure (bad/expired refresh token) rather than a
// transient network/server problem.
func isAuthClassError(err error) bool {
	k, ok := apierr.As(err)
	return ok && k.Kind == apierr.AuthenticationError
}
