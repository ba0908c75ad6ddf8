package cryptocompare

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

type OpenPositionRequest struct {
	PortfolioID string
	CoinID      string
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Timestamp   int64
	Comment     string
	Quote       string
	Exchange    string
}

type coinAddPayload struct {
	PortfolioID  string      `json:"portfolioId"`
	CoinID       string      `json:"coinId"`
	Amount       json.Number `json:"amount"`
	BuyPrice     json.Number `json:"buyPrice"`
	BoughtOnTs   int64       `json:"boughtOnTs"`
	Description  string      `json:"description"`
	BuyCurrency  string      `json:"buyCurrency"`
	StoredIn     string      `json:"storedIn"`
	Address      string      `json:"address"`
	WalletName   string      `json:"walletName"`
	ExchangeName string      `json:"exchangeName"`
}

func (c *Client) OpenPosition(ctx context.Context, s *Session, r OpenPositionRequest) (Member, error) {
	payload := coinAddPayload{
		PortfolioID:  r.PortfolioID,
		CoinID:       r.CoinID,
		Amount:       number(r.Amount),
		BuyPrice:     number(r.Price),
		BoughtOnTs:   r.Timestamp,
		Description:  r.Comment,
		BuyCurrency:  r.Quote,
		ExchangeName: r.Exchange,
	}
	if r.Exchange != "" {
		payload.StoredIn = "Exchange"
	}

	var m Member
	err := c.call(ctx, "coinadd", http.MethodPost, c.siteURL+"/api/portfolio/post/coinadd/", s.AuthKey, payload, &m)
	return m, err
}

type ClosePositionRequest struct {
	PositionID string
	Amount     decimal.Decimal
	Price      decimal.Decimal
	Timestamp  int64
	Comment    string
	Quote      string
}

type coinSellPayload struct {
	ID              string      `json:"id"`
	SellAmount      json.Number `json:"sellAmount"`
	SellPrice       json.Number `json:"sellPrice"`
	SellCurrency    string      `json:"sellCurrency"`
	SoldOnTs        int64       `json:"soldOnTs"`
	SoldDescription string      `json:"soldDescription"`
}

// ClosePosition sells part or all of a position. The returned member is the
// sold record and carries the service's ActionType.
func (c *Client) ClosePosition(ctx context.Context, s *Session, r ClosePositionRequest) (Member, error) {
	var m Member
	err := c.call(ctx, "coinsell", http.MethodPost, c.siteURL+"/api/portfolio/post/coinsell/", s.AuthKey, coinSellPayload{
		ID:              r.PositionID,
		SellAmount:      number(r.Amount),
		SellPrice:       number(r.Price),
		SellCurrency:    r.Quote,
		SoldOnTs:        r.Timestamp,
		SoldDescription: r.Comment,
	}, &m)
	return m, err
}

func (c *Client) DeletePosition(ctx context.Context, s *Session, id string) error {
	return c.call(ctx, "coindelete", http.MethodPost, c.siteURL+"/api/portfolio/post/coindelete/", s.AuthKey, idRequest{ID: id}, nil)
}

// number sends decimals as plain JSON numbers.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
