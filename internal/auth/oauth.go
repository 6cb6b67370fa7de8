package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIURL = "https://api.github.com"

// ErrNoVerifiedEmail means the GitHub account has no verified primary email,
// so it cannot be matched to a local account.
var ErrNoVerifiedEmail = errors.New("auth: GitHub account has no verified primary email")

// GitHubUser is the part of the GitHub profile used for sign-in.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	// Email is the verified primary address from /user/emails, not the
	// public profile email (which may be hidden or unverified).
	Email string `json:"-"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
//  1. AuthURL sends the browser to GitHub with a random state.
//  2. GitHub redirects back with a short-lived code.
//  3. Exchange trades the code for an access token server-to-server and reads
//     the profile plus the verified primary email.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// NewGitHubProvider creates a GitHubProvider. callbackURL must match the
// "Authorization callback URL" of the OAuth App exactly, e.g.
// http://localhost:5000/auth/github/callback.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiURL: githubAPIURL,
	}
}

// AuthURL returns the GitHub authorization URL for state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow and returns the GitHub identity.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// The client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	var ghUser GitHubUser
	if err := p.getJSON(ctx, client, "/user", &ghUser); err != nil {
		return nil, err
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	var emails []githubEmail
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			ghUser.Email = e.Email
			break
		}
	}
	if ghUser.Email == "" {
		return nil, ErrNoVerifiedEmail
	}

	return &ghUser, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s API: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s API returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}
