package lending

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// Amount is a human-readable token amount given as a JSON string or number.
// Numbers keep their literal text so no precision is lost to float64.
type Amount struct {
	text string
}

func (a *Amount) UnmarshalJSON(buf []byte) error {
	buf = bytes.TrimSpace(buf)
	if bytes.Equal(buf, []byte("null")) {
		a.text = ""
		return nil
	}
	if len(buf) > 0 && buf[0] == '"' {
		var s string
		if err := json.Unmarshal(buf, &s); err != nil {
			return err
		}
		a.text = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(buf, &n); err != nil {
		return fmt.Errorf("amount must be a string or number")
	}
	a.text = n.String()
	return nil
}

func (a Amount) String() string { return a.text }
func (a Amount) IsSet() bool    { return a.text != "" }

// RateMode selects the interest rate model of a borrow position.
type RateMode int

const (
	RateStable   RateMode = 1
	RateVariable RateMode = 2
)

func (m RateMode) String() string {
	switch m {
	case RateStable:
		return "stable"
	case RateVariable:
		return "variable"
	default:
		return fmt.Sprintf("rate_mode(%d)", int(m))
	}
}

func (m RateMode) Big() *big.Int { return big.NewInt(int64(m)) }

func (m *RateMode) UnmarshalJSON(buf []byte) error {
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*m = 0
		return nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "stable", "1":
			*m = RateStable
			return nil
		case "variable", "2":
			*m = RateVariable
			return nil
		}
	case float64:
		switch v {
		case 1:
			*m = RateStable
			return nil
		case 2:
			*m = RateVariable
			return nil
		}
	}
	return fmt.Errorf("rate_mode must be \"stable\" or \"variable\", got %s", string(buf))
}

func (m RateMode) validate() error {
	if m != RateStable && m != RateVariable {
		return clierr.New(clierr.CodeUsage, "rate_mode is required (stable|variable)")
	}
	return nil
}

type approveParams struct {
	Token      string `json:"token"`
	Amount     Amount `json:"amount"`
	Spender    string `json:"spender"`
	ApproveMax bool   `json:"approve_max"`
}

type depositParams struct {
	Token        string `json:"token"`
	Amount       Amount `json:"amount"`
	OnBehalfOf   string `json:"on_behalf_of"`
	ReferralCode int    `json:"referral_code"`
}

type withdrawParams struct {
	Token       string `json:"token"`
	Amount      Amount `json:"amount"`
	To          string `json:"to"`
	WithdrawAll bool   `json:"withdraw_all"`
}

type borrowParams struct {
	Token        string   `json:"token"`
	Amount       Amount   `json:"amount"`
	RateMode     RateMode `json:"rate_mode"`
	OnBehalfOf   string   `json:"on_behalf_of"`
	ReferralCode int      `json:"referral_code"`
}

type repayParams struct {
	Token      string   `json:"token"`
	Amount     Amount   `json:"amount"`
	RateMode   RateMode `json:"rate_mode"`
	OnBehalfOf string   `json:"on_behalf_of"`
	RepayAll   bool     `json:"repay_all"`
}

// MarketQuery filters the market_data listing.
type MarketQuery struct {
	Symbol                string `json:"symbol"`
	IncludeBorrowDisabled bool   `json:"include_borrow_disabled"`
	Sort                  string `json:"sort"`
	Limit                 int    `json:"limit"`
}

// decodeParams strictly decodes a tool input object. Empty input is {}.
func decodeParams(input json.RawMessage, out any) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid tool input", err)
	}
	return nil
}

func requireToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", clierr.New(clierr.CodeUsage, "token is required")
	}
	return token, nil
}

func validateReferral(code int) (uint16, error) {
	if code < 0 || code > 65535 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("referral_code must be between 0 and 65535, got %d", code))
	}
	return uint16(code), nil
}
