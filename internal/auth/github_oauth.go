package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/hitoshi/itembox/internal/model"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// maxProfileResponseSize はGitHub APIレスポンスの読み込み上限。
const maxProfileResponseSize = 1 << 20

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、検証済みプロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*model.OAuthProfile, error)
}

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はトークン交換とAPI呼び出しに使用する。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// GitHubOAuthProvider はGitHub OAuthによる認証を提供する。
type GitHubOAuthProvider struct {
	oauth      *oauth2.Config
	client     *http.Client
	apiBaseURL string
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
// スコープには user:email を要求する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	endpoint := github.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultGitHubAPIBaseURL
	}

	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &GitHubOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"user:email"},
		},
		client:     client,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
	}
}

// GetLoginURL はGitHubの認可URLを生成する。
func (p *GitHubOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// githubUser はGitHub API /user のレスポンス。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail はGitHub API /user/emails のレスポンス要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
// メールアドレス一覧の取得に失敗した場合は /user の公開メールアドレスのみを使用する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.OAuthProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	client := p.oauth.Client(ctx, token)

	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("empty id in user profile response")
	}

	var emails []githubEmail
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		emails = nil
	}

	profile := &model.OAuthProfile{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Username:       user.Login,
		DisplayName:    user.Name,
		Emails:         orderEmails(emails, user.Email),
	}
	if user.AvatarURL != "" {
		profile.Photos = []string{user.AvatarURL}
	}
	return profile, nil
}

// orderEmails は検証済みメールアドレスをプライマリ優先で並べる。
// 一覧が空の場合は公開メールアドレスを使用する。
func orderEmails(emails []githubEmail, public string) []string {
	var primary, others []string
	for _, e := range emails {
		if !e.Verified || e.Email == "" {
			continue
		}
		if e.Primary {
			primary = append(primary, e.Email)
		} else {
			others = append(others, e.Email)
		}
	}
	ordered := append(primary, others...)
	if len(ordered) == 0 && public != "" {
		ordered = []string{public}
	}
	return ordered
}

func (p *GitHubOAuthProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
