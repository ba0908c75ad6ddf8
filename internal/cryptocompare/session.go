package cryptocompare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jeovahfialho/cctool/internal/domain"
)

// Session carries what authenticated calls need: the auth key returned by
// Login and the coin table used to map symbols to coin ids.
type Session struct {
	AuthKey string
	Email   string
	coins   map[string]Coin
}

func NewSession(authKey string, coins map[string]Coin) *Session {
	return &Session{AuthKey: authKey, coins: coins}
}

func (s *Session) Coin(symbol string) (Coin, error) {
	coin, ok := s.coins[symbol]
	if !ok {
		return Coin{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
	}
	return coin, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Referrer string `json:"referrer"`
	Campaign string `json:"campaign"`
	RegPage  string `json:"reg_page"`
	Action   string `json:"action"`
}

// Login authenticates and loads the coin table.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	coins, err := c.Coins(ctx)
	if err != nil {
		return nil, err
	}

	var data struct {
		AuthKey string `json:"AuthKey"`
	}
	err = c.call(ctx, "login", http.MethodPost, c.authURL+"/cryptopian/login/web", "", loginRequest{
		Email:    email,
		Password: password,
		Referrer: c.siteURL + "/",
		Campaign: "N/A",
		RegPage:  c.siteURL + "/",
		Action:   "Dropdown Menu User Section",
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.AuthKey == "" {
		return nil, &APIError{Operation: "login", Message: "no auth key in response"}
	}

	s := NewSession(data.AuthKey, coins)
	s.Email = email
	return s, nil
}

func (c *Client) Logout(ctx context.Context, s *Session) error {
	if s == nil || s.AuthKey == "" {
		return nil
	}
	return c.call(ctx, "logout", http.MethodGet, c.authURL+"/cryptopian/logout", s.AuthKey, nil, nil)
}

func (c *Client) Coins(ctx context.Context) (map[string]Coin, error) {
	var coins map[string]Coin
	if err := c.call(ctx, "coinlist", http.MethodGet, c.siteURL+"/api/data/coinlist/", "", nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

var portfolioData = regexp.MustCompile(`(?s)setPortfolioData\((\{.+?\})\);`)

// Portfolios reads the portfolios embedded in the portfolio page.
func (c *Client) Portfolios(ctx context.Context, s *Session) ([]Portfolio, error) {
	body, _, err := c.do(ctx, "portfolios", http.MethodGet, c.siteURL+"/portfolio/", s.AuthKey, nil)
	if err != nil {
		return nil, err
	}

	match := portfolioData.FindSubmatch(body)
	if match == nil {
		return nil, &APIError{Operation: "portfolios", Message: "portfolio data not found in page"}
	}

	var data struct {
		Data []Portfolio `json:"Data"`
	}
	if err := json.Unmarshal(match[1], &data); err != nil {
		return nil, fmt.Errorf("cryptocompare portfolios: decode: %w", err)
	}
	return data.Data, nil
}

// Portfolio returns the portfolio with the given id, freshly loaded.
func (c *Client) Portfolio(ctx context.Context, s *Session, id string) (Portfolio, error) {
	portfolios, err := c.Portfolios(ctx, s)
	if err != nil {
		return Portfolio{}, err
	}
	for _, p := range portfolios {
		if p.ID.String() == id {
			return p, nil
		}
	}
	return Portfolio{}, fmt.Errorf("portfolio %s not found", id)
}

type createPortfolioRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
	Access      string `json:"access"`
	Encryption  string `json:"encryption"`
}

func (c *Client) CreatePortfolio(ctx context.Context, s *Session, name, description, currency string) (Portfolio, error) {
	var p Portfolio
	err := c.call(ctx, "create_portfolio", http.MethodPost, c.siteURL+"/api/portfolio/post/create/", s.AuthKey, createPortfolioRequest{
		Name:        name,
		Description: description,
		Currency:    currency,
		Access:      "Private",
		Encryption:  "Off",
	}, &p)
	return p, err
}

type idRequest struct {
	ID string `json:"id"`
}

func (c *Client) DeletePortfolio(ctx context.Context, s *Session, id string) error {
	return c.call(ctx, "delete_portfolio", http.MethodPost, c.siteURL+"/api/portfolio/post/delete/", s.AuthKey, idRequest{ID: id}, nil)
}
