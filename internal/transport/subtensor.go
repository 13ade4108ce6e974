package transport

// Subtensor chain access: balance and stake queries plus signed
// add_stake/remove_stake extrinsics.

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subnet-delegation-service/internal/metrics"
	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/retry"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vedhavyas/go-subkey/v2"
	"golang.org/x/crypto/blake2b"
)

// SS58Prefix is the generic Substrate address format used by Bittensor.
const SS58Prefix = 42

const (
	addStakeCall    = "SubtensorModule.add_stake"
	removeStakeCall = "SubtensorModule.remove_stake"
)

var (
	ErrNoSigner  = errors.New("no signing key configured")
	ErrTxTimeout = errors.New("timed out waiting for extrinsic inclusion")
)

type ChainClient interface {
	FetchBalance(ctx context.Context, address string) (model.Balance, error)
	FetchStake(ctx context.Context, coldkey string) (*uint64, error)
	AddStake(ctx context.Context, address string, amount uint64) (string, error)
	RemoveStake(ctx context.Context, address string, amount uint64) (string, error)
}

type SubtensorConfig struct {
	Endpoint string
	// Hotkey is the validator address that receives stake.
	Hotkey    string
	TxTimeout time.Duration
	Retry     retry.Policy
	Logger    *slog.Logger
}

type SubtensorClient struct {
	cfg    SubtensorConfig
	hotkey *types.AccountID
	signer *signature.KeyringPair
	logger *slog.Logger

	mu   sync.Mutex
	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
}

type SubtensorOption func(*SubtensorClient) error

// WithSigner loads the key used to sign stake extrinsics from a secret
// seed or mnemonic.
func WithSigner(seed string) SubtensorOption {
	return func(c *SubtensorClient) error {
		kp, err := signature.KeyringPairFromSecret(seed, SS58Prefix)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		c.signer = &kp
		return nil
	}
}

// NewSubtensorClient validates the configuration. The websocket is dialled
// on first use.
func NewSubtensorClient(cfg SubtensorConfig, opts ...SubtensorOption) (*SubtensorClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("chain endpoint is required")
	}
	hotkey, err := ParseAddress(cfg.Hotkey)
	if err != nil {
		return nil, fmt.Errorf("validator address: %w", err)
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &SubtensorClient{
		cfg:    cfg,
		hotkey: hotkey,
		logger: cfg.Logger,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SignerAddress returns the SS58 address of the signing key, or "" when
// none is configured.
func (c *SubtensorClient) SignerAddress() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address
}

// ParseAddress decodes an SS58 address into a chain account id.
func ParseAddress(address string) (*types.AccountID, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", address, err)
	}
	id, err := types.NewAccountID(pub)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", address, err)
	}
	return id, nil
}

// ValidateAddress reports whether address is a decodable SS58 account.
func ValidateAddress(address string) error {
	_, err := ParseAddress(address)
	return err
}

func (c *SubtensorClient) connect() (*gsrpc.SubstrateAPI, *types.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return c.api, c.meta, nil
	}
	api, err := gsrpc.NewSubstrateAPI(c.cfg.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", c.cfg.Endpoint, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		closeAPI(api)
		return nil, nil, fmt.Errorf("fetch metadata: %w", err)
	}
	c.api, c.meta = api, meta
	return api, meta, nil
}

// reset drops the connection so that the next call redials and reloads
// metadata after a runtime upgrade.
func (c *SubtensorClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		closeAPI(c.api)
	}
	c.api, c.meta = nil, nil
}

// closeAPI closes the websocket; the client interface does not expose
// Close, the concrete rpc client does.
func closeAPI(api *gsrpc.SubstrateAPI) {
	if closer, ok := api.Client.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *SubtensorClient) Close() {
	c.reset()
}

func (c *SubtensorClient) do(ctx context.Context, method string, fn func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	api, meta, err := c.connect()
	if err == nil {
		err = fn(api, meta)
		if err != nil {
			c.reset()
		}
	}
	metrics.RecordChainRequest(method, err)
	return err
}

func (c *SubtensorClient) FetchBalance(ctx context.Context, address string) (model.Balance, error) {
	cold, err := ParseAddress(address)
	if err != nil {
		return model.Balance{}, err
	}

	var balance model.Balance
	err = c.do(ctx, "fetch_balance", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		key, err := types.CreateStorageKey(meta, "System", "Account", cold.ToBytes())
		if err != nil {
			return fmt.Errorf("account storage key: %w", err)
		}
		var info types.AccountInfo
		ok, err := api.RPC.State.GetStorageLatest(key, &info)
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		if ok && info.Data.Free.Int != nil && info.Data.Free.IsUint64() {
			balance.Available = info.Data.Free.Uint64()
		}

		key, err = types.CreateStorageKey(meta, "SubtensorModule", "TotalColdkeyStake", cold.ToBytes())
		if err != nil {
			return fmt.Errorf("coldkey stake storage key: %w", err)
		}
		var staked types.U64
		if _, err := api.RPC.State.GetStorageLatest(key, &staked); err != nil {
			return fmt.Errorf("read coldkey stake: %w", err)
		}
		balance.Staked = uint64(staked)
		return nil
	})
	return balance, err
}

// FetchStake returns the stake coldkey has delegated to the validator
// hotkey, or nil when there is none.
func (c *SubtensorClient) FetchStake(ctx context.Context, coldkey string) (*uint64, error) {
	cold, err := ParseAddress(coldkey)
	if err != nil {
		return nil, err
	}

	var stake *uint64
	err = c.do(ctx, "fetch_stake", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		key, err := types.CreateStorageKey(meta, "SubtensorModule", "Stake", c.hotkey.ToBytes(), cold.ToBytes())
		if err != nil {
			return fmt.Errorf("stake storage key: %w", err)
		}
		var v types.U64
		ok, err := api.RPC.State.GetStorageLatest(key, &v)
		if err != nil {
			return fmt.Errorf("read stake: %w", err)
		}
		if ok && v > 0 {
			amount := uint64(v)
			stake = &amount
		}
		return nil
	})
	return stake, err
}

func (c *SubtensorClient) AddStake(ctx context.Context, address string, amount uint64) (string, error) {
	return c.stake(ctx, addStakeCall, address, amount)
}

func (c *SubtensorClient) RemoveStake(ctx context.Context, address string, amount uint64) (string, error) {
	return c.stake(ctx, removeStakeCall, address, amount)
}

// stake signs the call once and retries only its submission. A retry after
// the first copy was included carries a stale nonce and is rejected by the
// chain.
func (c *SubtensorClient) stake(ctx context.Context, call, address string, amount uint64) (string, error) {
	if c.signer == nil {
		return "", ErrNoSigner
	}
	if amount == 0 {
		return "", errors.New("amount must be positive")
	}
	from, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(from.ToBytes(), c.signer.PublicKey) {
		return "", fmt.Errorf("address %s does not match the signing key %s", address, c.signer.Address)
	}

	ext, err := c.sign(ctx, call, amount)
	if err != nil {
		return "", err
	}
	enc, err := codec.Encode(ext)
	if err != nil {
		return "", fmt.Errorf("encode extrinsic: %w", err)
	}
	sum := blake2b.Sum256(enc)
	txHash := "0x" + hex.EncodeToString(sum[:])

	err = retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.submit(ctx, ext)
	}, func(attempt int, err error) {
		c.logger.Warn("extrinsic submission failed, retrying", "call", call, "tx_hash", txHash, "attempt", attempt, "error", err)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", call, err)
	}
	c.logger.Info("extrinsic included", "call", call, "tx_hash", txHash, "amount", amount)
	return txHash, nil
}

func (c *SubtensorClient) sign(ctx context.Context, call string, amount uint64) (types.Extrinsic, error) {
	var ext types.Extrinsic
	err := c.do(ctx, "sign", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		cl, err := types.NewCall(meta, call, *c.hotkey, types.NewU64(amount))
		if err != nil {
			return fmt.Errorf("build %s: %w", call, err)
		}
		genesis, err := api.RPC.Chain.GetBlockHash(0)
		if err != nil {
			return fmt.Errorf("genesis hash: %w", err)
		}
		rv, err := api.RPC.State.GetRuntimeVersionLatest()
		if err != nil {
			return fmt.Errorf("runtime version: %w", err)
		}
		key, err := types.CreateStorageKey(meta, "System", "Account", c.signer.PublicKey)
		if err != nil {
			return fmt.Errorf("account storage key: %w", err)
		}
		var info types.AccountInfo
		ok, err := api.RPC.State.GetStorageLatest(key, &info)
		if err != nil {
			return fmt.Errorf("read signer account: %w", err)
		}
		if !ok {
			return fmt.Errorf("signer account %s does not exist on chain", c.signer.Address)
		}

		ext = types.NewExtrinsic(cl)
		opts := types.SignatureOptions{
			BlockHash:          genesis,
			Era:                types.ExtrinsicEra{IsImmortalEra: true},
			GenesisHash:        genesis,
			Nonce:              types.NewUCompactFromUInt(uint64(info.Nonce)),
			SpecVersion:        rv.SpecVersion,
			Tip:                types.NewUCompactFromUInt(0),
			TransactionVersion: rv.TransactionVersion,
		}
		if err := ext.Sign(*c.signer, opts); err != nil {
			return fmt.Errorf("sign %s: %w", call, err)
		}
		return nil
	})
	return ext, err
}

// submit sends ext and waits until it is in a block.
func (c *SubtensorClient) submit(ctx context.Context, ext types.Extrinsic) error {
	return c.do(ctx, "submit", func(api *gsrpc.SubstrateAPI, _ *types.Metadata) error {
		sub, err := api.RPC.Author.SubmitAndWatchExtrinsic(ext)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		defer sub.Unsubscribe()

		timer := time.NewTimer(c.cfg.TxTimeout)
		defer timer.Stop()

		for {
			select {
			case status := <-sub.Chan():
				switch {
				case status.IsInBlock, status.IsFinalized:
					return nil
				case status.IsInvalid:
					return errors.New("extrinsic invalid")
				case status.IsDropped:
					return errors.New("extrinsic dropped")
				case status.IsUsurped:
					return errors.New("extrinsic usurped")
				}
			case err := <-sub.Err():
				return fmt.Errorf("watch extrinsic: %w", err)
			case <-timer.C:
				return ErrTxTimeout
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

var _ ChainClient = (*SubtensorClient)(nil)
