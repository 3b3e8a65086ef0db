package login

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/json"
)

// exchangeAPIKey trades the id token for a platform API key through the
// token-exchange grant. Accounts without organization and project claims
// cannot mint one; for those it returns empty with no error.
func (s *Session) exchangeAPIKey(ctx context.Context, idToken string, idClaims map[string]any) (string, error) {
	orgID := auth.StringClaim(idClaims, "organization_id")
	projectID := auth.StringClaim(idClaims, "project_id")
	if orgID == "" || projectID == "" {
		return "", nil
	}

	today := time.Now().UTC().Format("2006-01-02")
	form := url.Values{
		"grant_type":         {"urn:ietf:params:oauth:grant-type:token-exchange"},
		"client_id":          {s.opts.ClientID},
		"requested_token":    {"openai-api-key"},
		"subject_token":      {idToken},
		"subject_token_type": {"urn:ietf:params:oauth:token-type:id_token"},
		"name":               {fmt.Sprintf("ChatGPT Local [auto-generated] (%s)", today)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.opts.Issuer+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("token exchange response: %w", err)
	}
	return payload.AccessToken, nil
}
