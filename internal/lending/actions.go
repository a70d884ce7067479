package lending

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/lendtools/internal/gas"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/tools"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
)

// actionTool adapts a param decoder and a request builder to tools.Tool.
type actionTool struct {
	svc         *Service
	name        string
	description string
	schema      schema.Object
	build       func(input json.RawMessage) (request, error)
	describe    func(req request, report *actionReport) string
}

func (t *actionTool) Name() string          { return t.name }
func (t *actionTool) Description() string   { return t.description }
func (t *actionTool) Schema() schema.Object { return t.schema }

func (t *actionTool) Call(ctx context.Context, inv tools.Invocation) tools.Response {
	req, err := t.build(inv.Input)
	if err != nil {
		return t.svc.failure(t.name, &actionReport{Tool: t.name, Network: networkName(inv.Ledger)}, err)
	}
	req.tool = t.name
	report, err := t.svc.run(ctx, inv, req)
	if err != nil {
		return t.svc.failure(t.name, report, err)
	}
	return tools.Response{Raw: report, Summary: actionSummary(t.describe(req, report), report), Outcome: tools.OutcomeOK}
}

func actionSummary(what string, report *actionReport) string {
	tx := report.Transaction
	switch tx.State {
	case txassembly.StateFrozen:
		details := fmt.Sprintf("%d bytes, nonce %d", len(tx.Bytes), derefNonce(tx.Nonce))
		if tx.FeePayer != "" {
			details = fmt.Sprintf("%d bytes, fee payer %s, nonce %d", len(tx.Bytes), tx.FeePayer, derefNonce(tx.Nonce))
		}
		summary := fmt.Sprintf("Prepared unsigned %s on %s (%s). Sign and submit the returned bytes to execute it.", what, report.Network, details)
		if tx.NonceDefaulted {
			summary += " Warning: no nonce was given, so nonce 0 was bound; freeze again with the operator's next nonce if 0 is not it."
		}
		return summary
	default:
		return fmt.Sprintf("Submitted %s on %s: transaction %s finished with status %s.", what, report.Network, tx.TxID, tx.Status)
	}
}

func derefNonce(n *uint64) uint64 {
	if n == nil {
		return 0
	}
	return *n
}

// amountText renders the amount for summaries.
func amountText(report *actionReport) string {
	symbol := ""
	if report.Token != nil {
		symbol = report.Token.Symbol
	}
	if report.Amount == "max" {
		return "the maximum amount of " + symbol
	}
	return report.Amount + " " + symbol
}

func counterpartyText(report *actionReport) string {
	if report.Counterparty == nil {
		return ""
	}
	return report.Counterparty.Address.Hex()
}

func (s *Service) approveTool() tools.Tool {
	return &actionTool{
		svc:         s,
		name:        ToolApprove,
		description: "Approve the lending pool (or another spender) to move an ERC-20 token on behalf of the operator account.",
		schema: schema.ObjectSchema(schema.Object{
			"token":       schema.StringProperty("Token symbol from the contract directory, e.g. USDC"),
			"amount":      schema.AmountProperty("Human-readable amount to approve, e.g. \"100.5\""),
			"spender":     schema.StringProperty("Spender as 0x address or shard.realm.num account id (default: lending pool)"),
			"approve_max": schema.BooleanProperty("Approve the maximum uint256 allowance and ignore amount"),
		}, "token", "amount"),
		build: func(input json.RawMessage) (request, error) {
			var p approveParams
			if err := decodeParams(input, &p); err != nil {
				return request{}, err
			}
			return request{
				action:        gas.ActionApprove,
				token:         p.Token,
				amount:        p.Amount,
				all:           p.ApproveMax,
				account:       p.Spender,
				spenderIsPool: true,
				guardPool:     p.Spender == "",
				encode: func(c callArgs) (common.Address, []byte, error) {
					data, err := erc20ABI.Pack("approve", c.counterparty, c.amount)
					return c.token.Token, data, err
				},
			}, nil
		},
		describe: func(req request, report *actionReport) string {
			return fmt.Sprintf("approval of %s for spender %s", amountText(report), counterpartyText(report))
		},
	}
}

func (s *Service) depositTool() tools.Tool {
	return &actionTool{
		svc:         s,
		name:        ToolDeposit,
		description: "Deposit (supply) a token into the lending pool. The token must be approved for the pool first.",
		schema: schema.ObjectSchema(schema.Object{
			"token":         schema.StringProperty("Token symbol from the contract directory, e.g. USDC"),
			"amount":        schema.AmountProperty("Human-readable amount to deposit"),
			"on_behalf_of":  schema.StringProperty("Account credited with the deposit (default: operator)"),
			"referral_code": schema.IntegerProperty("Referral code", 0, 65535),
		}, "token", "amount"),
		build: func(input json.RawMessage) (request, error) {
			var p depositParams
			if err := decodeParams(input, &p); err != nil {
				return request{}, err
			}
			referral, err := validateReferral(p.ReferralCode)
			if err != nil {
				return request{}, err
			}
			return request{
				action:    gas.ActionDeposit,
				token:     p.Token,
				amount:    p.Amount,
				account:   p.OnBehalfOf,
				guardPool: true,
				encode: func(c callArgs) (common.Address, []byte, error) {
					data, err := lendingPoolABI.Pack("deposit", c.token.Token, c.amount, c.counterparty, referral)
					return c.pool, data, err
				},
			}, nil
		},
		describe: func(req request, report *actionReport) string {
			return fmt.Sprintf("deposit of %s for %s", amountText(report), counterpartyText(report))
		},
	}
}

func (s *Service) withdrawTool() tools.Tool {
	return &actionTool{
		svc:         s,
		name:        ToolWithdraw,
		description: "Withdraw a supplied token from the lending pool.",
		schema: schema.ObjectSchema(schema.Object{
			"token":        schema.StringProperty("Token symbol from the contract directory, e.g. USDC"),
			"amount":       schema.AmountProperty("Human-readable amount to withdraw"),
			"to":           schema.StringProperty("Recipient of the withdrawn tokens (default: operator)"),
			"withdraw_all": schema.BooleanProperty("Withdraw the full balance and ignore amount"),
		}, "token", "amount"),
		build: func(input json.RawMessage) (request, error) {
			var p withdrawParams
			if err := decodeParams(input, &p); err != nil {
				return request{}, err
			}
			return request{
				action:  gas.ActionWithdraw,
				token:   p.Token,
				amount:  p.Amount,
				all:     p.WithdrawAll,
				account: p.To,
				encode: func(c callArgs) (common.Address, []byte, error) {
					data, err := lendingPoolABI.Pack("withdraw", c.token.Token, c.amount, c.counterparty)
					return c.pool, data, err
				},
			}, nil
		},
		describe: func(req request, report *actionReport) string {
			return fmt.Sprintf("withdrawal of %s to %s", amountText(report), counterpartyText(report))
		},
	}
}

func (s *Service) borrowTool() tools.Tool {
	return &actionTool{
		svc:         s,
		name:        ToolBorrow,
		description: "Borrow a token from the lending pool against supplied collateral.",
		schema: schema.ObjectSchema(schema.Object{
			"token":         schema.StringProperty("Token symbol from the contract directory, e.g. USDC"),
			"amount":        schema.AmountProperty("Human-readable amount to borrow"),
			"rate_mode":     schema.StringEnumProperty("Interest rate mode", RateStable.String(), RateVariable.String()),
			"on_behalf_of":  schema.StringProperty("Account that receives the debt (default: operator)"),
			"referral_code": schema.IntegerProperty("Referral code", 0, 65535),
		}, "token", "amount", "rate_mode"),
		build: func(input json.RawMessage) (request, error) {
			var p borrowParams
			if err := decodeParams(input, &p); err != nil {
				return request{}, err
			}
			if err := p.RateMode.validate(); err != nil {
				return request{}, err
			}
			referral, err := validateReferral(p.ReferralCode)
			if err != nil {
				return request{}, err
			}
			return request{
				action:   gas.ActionBorrow,
				token:    p.Token,
				amount:   p.Amount,
				account:  p.OnBehalfOf,
				rateMode: p.RateMode,
				encode: func(c callArgs) (common.Address, []byte, error) {
					data, err := lendingPoolABI.Pack("borrow", c.token.Token, c.amount, p.RateMode.Big(), referral, c.counterparty)
					return c.pool, data, err
				},
			}, nil
		},
		describe: func(req request, report *actionReport) string {
			return fmt.Sprintf("%s-rate borrow of %s for %s", req.rateMode, amountText(report), counterpartyText(report))
		},
	}
}

func (s *Service) repayTool() tools.Tool {
	return &actionTool{
		svc:         s,
		name:        ToolRepay,
		description: "Repay borrowed debt to the lending pool.",
		schema: schema.ObjectSchema(schema.Object{
			"token":        schema.StringProperty("Token symbol from the contract directory, e.g. USDC"),
			"amount":       schema.AmountProperty("Human-readable amount to repay"),
			"rate_mode":    schema.StringEnumProperty("Interest rate mode of the debt", RateStable.String(), RateVariable.String()),
			"on_behalf_of": schema.StringProperty("Account whose debt is repaid (default: operator)"),
			"repay_all":    schema.BooleanProperty("Repay the whole debt and ignore amount"),
		}, "token", "amount", "rate_mode"),
		build: func(input json.RawMessage) (request, error) {
			var p repayParams
			if err := decodeParams(input, &p); err != nil {
				return request{}, err
			}
			if err := p.RateMode.validate(); err != nil {
				return request{}, err
			}
			return request{
				action:   gas.ActionRepay,
				token:    p.Token,
				amount:   p.Amount,
				all:      p.RepayAll,
				account:  p.OnBehalfOf,
				rateMode: p.RateMode,
				encode: func(c callArgs) (common.Address, []byte, error) {
					data, err := lendingPoolABI.Pack("repay", c.token.Token, c.amount, p.RateMode.Big(), c.counterparty)
					return c.pool, data, err
				},
			}, nil
		},
		describe: func(req request, report *actionReport) string {
			return fmt.Sprintf("repayment of %s of %s-rate debt for %s", amountText(report), req.rateMode, counterpartyText(report))
		},
	}
}
