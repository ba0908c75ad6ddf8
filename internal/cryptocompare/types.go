package cryptocompare

import (
	"strings"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
)

type Coin struct {
	ID       ID     `json:"Id"`
	Symbol   string `json:"Symbol"`
	Name     string `json:"Name"`
	CoinName string `json:"CoinName"`
}

// Member is one position of a remote portfolio.
type Member struct {
	ID           ID              `json:"Id"`
	Coin         Coin            `json:"Coin"`
	Amount       decimal.Decimal `json:"Amount"`
	BuyPrice     decimal.Decimal `json:"BuyPrice"`
	BoughtOnTs   int64           `json:"BoughtOnTs"`
	Description  string          `json:"Description"`
	ExchangeName string          `json:"ExchangeName"`

	Sold            bool            `json:"Sold"`
	SoldDescription string          `json:"SoldDescription"`
	SoldAmount      decimal.Decimal `json:"SoldAmount"`
	SoldPrice       decimal.Decimal `json:"SoldPrice"`
	SoldOnTs        int64           `json:"SoldOnTs"`

	// ActionType is only set on close responses.
	ActionType string `json:"ActionType,omitempty"`
}

func (m Member) Position(portfolioID string) domain.Position {
	return domain.Position{
		ID:              m.ID.String(),
		PortfolioID:     portfolioID,
		Symbol:          m.Coin.Symbol,
		Exchange:        m.ExchangeName,
		Amount:          m.Amount,
		EntryPrice:      m.BuyPrice,
		EntryTimestamp:  m.BoughtOnTs,
		Comment:         m.Description,
		Sold:            m.Sold,
		SoldDescription: m.SoldDescription,
		SoldAmount:      m.SoldAmount,
		SoldPrice:       m.SoldPrice,
		SoldTimestamp:   m.SoldOnTs,
	}
}

type Portfolio struct {
	ID          ID     `json:"Id"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Currency    string `json:"Currency"`

	Members              []Member `json:"Members"`
	MembersCollapsed     []Member `json:"MembersCollapsed"`
	SoldMembers          []Member `json:"SoldMembers"`
	SoldMembersCollapsed []Member `json:"SoldMembersCollapsed"`
}

// Positions returns every open then sold member as positions, in the order the
// service lists them.
func (p Portfolio) Positions() []domain.Position {
	lists := [][]Member{p.Members, p.MembersCollapsed, p.SoldMembers, p.SoldMembersCollapsed}

	var out []domain.Position
	for _, list := range lists {
		for _, m := range list {
			out = append(out, m.Position(p.ID.String()))
		}
	}
	return out
}

// FindPortfolio returns the first portfolio whose name contains part,
// ignoring case.
func FindPortfolio(portfolios []Portfolio, part string) (Portfolio, bool) {
	part = strings.ToLower(part)
	for _, p := range portfolios {
		if strings.Contains(strings.ToLower(p.Name), part) {
			return p, true
		}
	}
	return Portfolio{}, false
}
