package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// AccountID is a ledger-native shard.realm.num account identifier.
type AccountID struct {
	Shard uint32
	Realm uint64
	Num   uint64
}

func ParseAccountID(input string) (AccountID, error) {
	parts := strings.Split(strings.TrimSpace(input), ".")
	if len(parts) != 3 {
		return AccountID{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("account id %q must have the form shard.realm.num", input))
	}
	shard, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return AccountID{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("account id %q has an invalid shard", input), err)
	}
	realm, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return AccountID{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("account id %q has an invalid realm", input), err)
	}
	num, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return AccountID{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("account id %q has an invalid number", input), err)
	}
	return AccountID{Shard: uint32(shard), Realm: realm, Num: num}, nil
}

func (a AccountID) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Shard, a.Realm, a.Num)
}

func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// LongZeroAddress packs shard (4 bytes), realm (8 bytes) and num (8 bytes)
// big-endian into a 20-byte address.
func (a AccountID) LongZeroAddress() common.Address {
	var out common.Address
	binary.BigEndian.PutUint32(out[0:4], a.Shard)
	binary.BigEndian.PutUint64(out[4:12], a.Realm)
	binary.BigEndian.PutUint64(out[12:20], a.Num)
	return out
}

// Account pairs the native identifier with the EVM address that signs for it.
type Account struct {
	ID      AccountID      `json:"id"`
	Address common.Address `json:"address"`
}
