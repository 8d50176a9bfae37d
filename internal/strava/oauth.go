package strava

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
)

// TokenManager hands out valid access tokens for platform users, refreshing
// and persisting them when they are close to expiry.
type TokenManager struct {
	cfg   *oauth2.Config
	users domain.UserRepository
}

// NewTokenManager builds a TokenManager for the platform OAuth app.
func NewTokenManager(clientID, clientSecret, tokenURL string, users domain.UserRepository) *TokenManager {
	return &TokenManager{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		users: users,
	}
}

// expiryLeeway refreshes tokens slightly before the platform would reject them.
const expiryLeeway = time.Minute

// AccessToken returns a usable access token for the user, refreshing through
// the OAuth token endpoint when the stored one has expired.
func (m *TokenManager) AccessToken(ctx context.Context, userID string) (string, error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.tokenFor(ctx, user)
}

// AccessTokenForAthlete resolves the user by platform athlete id first.
func (m *TokenManager) AccessTokenForAthlete(ctx context.Context, athleteID int64) (string, string, error) {
	user, err := m.users.GetByAthleteID(ctx, athleteID)
	if err != nil {
		return "", "", err
	}
	token, err := m.tokenFor(ctx, user)
	if err != nil {
		return "", "", err
	}
	return user.ID, token, nil
}

func (m *TokenManager) tokenFor(ctx context.Context, user *domain.User) (string, error) {
	if user.AccessToken != "" && time.Until(user.TokenExpiresAt) > expiryLeeway {
		return user.AccessToken, nil
	}
	if user.RefreshToken == "" {
		return "", fmt.Errorf("user %s has no refresh token", user.ID)
	}

	source := m.cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		Expiry:       user.TokenExpiresAt,
	})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing token for user %s: %w", user.ID, err)
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = user.RefreshToken
	}
	if err := m.users.SaveToken(ctx, user.ID, token.AccessToken, refresh, token.Expiry); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
