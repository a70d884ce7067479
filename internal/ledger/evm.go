package ledger

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/httpx"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/signer"
)

// Backend is the subset of ethclient.Client used by EVMClient.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

type Options struct {
	Network        registry.Network
	RPCURL         string
	MirrorURL      string
	OperatorID     AccountID
	Signer         signer.Signer
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	HTTPTimeout    time.Duration
}

// EVMClient talks to the ledger's JSON-RPC relay for reads and writes and to
// the mirror node REST API for account aliases.
type EVMClient struct {
	backend        Backend
	network        registry.Network
	chainID        *big.Int
	operator       Account
	signer         signer.Signer
	mirror         *httpx.Client
	mirrorURL      string
	pollInterval   time.Duration
	receiptTimeout time.Duration
}

func Dial(ctx context.Context, opts Options) (*EVMClient, error) {
	rpcURL, err := registry.ResolveRPCURL(opts.RPCURL, opts.Network)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeLedger, "connect rpc", err)
	}
	return New(client, opts)
}

// New wraps an existing backend. The mirror URL defaults per network.
func New(backend Backend, opts Options) (*EVMClient, error) {
	if !opts.Network.Valid() {
		return nil, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("unsupported network %q", opts.Network))
	}
	mirrorURL, err := registry.ResolveMirrorURL(opts.MirrorURL, opts.Network)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "resolve mirror url", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	operator := Account{ID: opts.OperatorID}
	if opts.Signer != nil {
		operator.Address = opts.Signer.Address()
	}
	return &EVMClient{
		backend:        backend,
		network:        opts.Network,
		chainID:        opts.Network.ChainID(),
		operator:       operator,
		signer:         opts.Signer,
		mirror:         httpx.New(opts.HTTPTimeout, 1),
		mirrorURL:      mirrorURL,
		pollInterval:   opts.PollInterval,
		receiptTimeout: opts.ReceiptTimeout,
	}, nil
}

func (c *EVMClient) Network() string   { return c.network.String() }
func (c *EVMClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }
func (c *EVMClient) Operator() Account { return c.operator }

func (c *EVMClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeLedger, "eth_call", err)
	}
	return out, nil
}

type mirrorAccount struct {
	Account    string `json:"account"`
	EVMAddress string `json:"evm_address"`
}

func (c *EVMClient) AccountAlias(ctx context.Context, id AccountID) (common.Address, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s", c.mirrorURL, url.PathEscape(id.String()))
	var resp mirrorAccount
	if _, err := httpx.GetJSON(ctx, c.mirror, endpoint, &resp); err != nil {
		if httpx.Status(err) == http.StatusNotFound {
			return common.Address{}, clierr.Wrap(clierr.CodeNotFound, fmt.Sprintf("account %s not found on %s", id, c.network), err)
		}
		return common.Address{}, err
	}
	if !common.IsHexAddress(resp.EVMAddress) {
		return common.Address{}, nil
	}
	return common.HexToAddress(resp.EVMAddress), nil
}

// Execute fills in the operator nonce and tip cap, signs and broadcasts tx and
// polls for its receipt. A reverted receipt is returned together with an error.
func (c *EVMClient) Execute(ctx context.Context, tx *types.Transaction) (Receipt, error) {
	if c.signer == nil {
		return Receipt{}, clierr.New(clierr.CodeSigner, "submit mode requires an operator key")
	}
	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeLedger, "fetch nonce", err)
	}
	feeCap := tx.GasFeeCap()
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = big.NewInt(0)
	}
	if feeCap != nil && tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       tx.Gas(),
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	signed, err := c.signer.SignTx(c.chainID, unsigned)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeLedger, "broadcast transaction", err)
	}
	return c.waitReceipt(ctx, signed.Hash())
}

func (c *EVMClient) waitReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	// Polling errors, including not-found, are retried until the timeout.
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			out := Receipt{TxHash: hash, Status: StatusSuccess, GasUsed: receipt.GasUsed}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				out.Status = StatusReverted
				return out, clierr.New(clierr.CodeLedger, fmt.Sprintf("transaction %s reverted", hash.Hex()))
			}
			return out, nil
		}
		select {
		case <-waitCtx.Done():
			return Receipt{TxHash: hash}, clierr.Wrap(clierr.CodeActionTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}
