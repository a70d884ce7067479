package gas

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Tier groups actions by expected execution cost.
type Tier string

const (
	Light Tier = "light"
	Heavy Tier = "heavy"
)

// Action names a state-changing lending operation.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionBorrow   Action = "borrow"
	ActionRepay    Action = "repay"
)

const envPrefix = "LENDTOOLS_"

// Profile is the gas limit and fee cap attached to one transaction.
type Profile struct {
	Tier        Tier   `json:"tier"`
	GasLimit    uint64 `json:"gas_limit"`
	MaxFeeGwei  uint64 `json:"max_fee_gwei"`
	LimitSource string `json:"limit_source"`
	FeeSource   string `json:"fee_source"`
}

type defaults struct {
	gasLimit   uint64
	maxFeeGwei uint64
}

var tierDefaults = map[Tier]defaults{
	Light: {gasLimit: 400_000, maxFeeGwei: 1_000},
	Heavy: {gasLimit: 1_000_000, maxFeeGwei: 1_000},
}

var tierByAction = map[Action]Tier{
	ActionApprove:  Light,
	ActionDeposit:  Heavy,
	ActionWithdraw: Heavy,
	ActionBorrow:   Heavy,
	ActionRepay:    Heavy,
}

// TierFor returns the tier of an action. Unknown actions are heavy.
func TierFor(action Action) Tier {
	if tier, ok := tierByAction[action]; ok {
		return tier
	}
	return Heavy
}

// For builds the profile of an action from the current environment. It is
// evaluated on every call so env changes apply to the next invocation.
func For(action Action) Profile {
	return ForWith(action, os.LookupEnv)
}

// ForWith resolves a profile against an arbitrary lookup function.
func ForWith(action Action, lookup func(string) (string, bool)) Profile {
	tier := TierFor(action)
	base := tierDefaults[tier]
	out := Profile{
		Tier:        tier,
		GasLimit:    base.gasLimit,
		MaxFeeGwei:  base.maxFeeGwei,
		LimitSource: "default",
		FeeSource:   "default",
	}
	actionKey := strings.ToUpper(string(action))
	tierKey := strings.ToUpper(string(tier))

	for _, key := range []string{envPrefix + actionKey + "_GAS_LIMIT", envPrefix + "GAS_LIMIT_" + tierKey} {
		if v, ok := positiveEnv(lookup, key); ok {
			out.GasLimit = v
			out.LimitSource = key
			break
		}
	}
	for _, key := range []string{envPrefix + actionKey + "_MAX_FEE_GWEI", envPrefix + "MAX_FEE_GWEI_" + tierKey} {
		if v, ok := positiveEnv(lookup, key); ok {
			out.MaxFeeGwei = v
			out.FeeSource = key
			break
		}
	}
	return out
}

// MaxFeeWei converts the fee cap to wei.
func (p Profile) MaxFeeWei() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(p.MaxFeeGwei), big.NewInt(params.GWei))
}

func positiveEnv(lookup func(string) (string, bool), key string) (uint64, bool) {
	if lookup == nil {
		return 0, false
	}
	raw, ok := lookup(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}
