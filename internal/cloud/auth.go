package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/playtrack/internal/tokenfile"
)

// ErrTokenExpired is returned by a file-backed token source once the stored
// token is past its expiry. Run `playtrack credentials` to store a new one.
var ErrTokenExpired = errors.New("cloud: stored token expired")

// TokenSourceFromFile loads the credentials file at path. Returns
// ErrNotLoggedIn when no file exists.
func TokenSourceFromFile(path string, logger *slog.Logger) (TokenSource, error) {
	f, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if f == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !f.Token.Expiry.IsZero() && f.Token.Expiry.Before(time.Now())
	logger.Info("loaded stored credentials",
		slog.String("path", path),
		slog.Time("expiry", f.Token.Expiry),
		slog.Bool("expired", expired),
	)

	return &tokenBridge{src: oauth2.StaticTokenSource(f.Token), logger: logger}, nil
}

// SaveCredentials stores a bearer token for endpoint. A zero expiry means
// the token does not expire.
func SaveCredentials(path, accessToken, endpoint string, expiry time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("cloud: access token is required")
	}

	return tokenfile.Save(path, &tokenfile.File{
		Token: &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			Expiry:      expiry,
		},
		Endpoint: endpoint,
		SavedAt:  time.Now().UTC(),
	})
}

// tokenBridge adapts oauth2.TokenSource to TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("cloud: obtaining token: %w", err)
	}

	if !t.Valid() {
		return "", ErrTokenExpired
	}

	return t.AccessToken, nil
}
