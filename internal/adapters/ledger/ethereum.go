package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// TraceABI is the interface of the trace contract.
const TraceABI = `[
{"type":"function","name":"uploadData","stateMutability":"nonpayable","inputs":[
 {"name":"batchId","type":"string"},{"name":"timestamp","type":"uint256"},
 {"name":"temperature","type":"int256"},{"name":"humidity","type":"int256"},
 {"name":"location","type":"string"},{"name":"productName","type":"string"},
 {"name":"dataHash","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"anchorBatch","stateMutability":"nonpayable","inputs":[
 {"name":"batchId","type":"string"},{"name":"merkleRoot","type":"bytes32"},
 {"name":"recordCount","type":"uint256"},{"name":"cid","type":"string"}],"outputs":[]},
{"type":"function","name":"anchoredRoot","stateMutability":"view","inputs":[
 {"name":"batchId","type":"string"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getTraceHistory","stateMutability":"view","inputs":[
 {"name":"batchId","type":"string"}],"outputs":[
 {"name":"timestamps","type":"uint256[]"},{"name":"temperatures","type":"int256[]"},
 {"name":"humidities","type":"int256[]"},{"name":"locations","type":"string[]"},
 {"name":"productNames","type":"string[]"},{"name":"dataHashes","type":"bytes32[]"}]}
]`

type EthereumConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	ContractAddress string        `yaml:"contract_address"`
	PrivateKey      string        `yaml:"-"`
	ChainID         int64         `yaml:"chain_id"`
	GasLimit        uint64        `yaml:"gas_limit"`
	MineTimeout     time.Duration `yaml:"mine_timeout"`
}

// Ethereum anchors each record with uploadData and the batch root with
// anchorBatch, waiting for every transaction to be mined.
type Ethereum struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	cfg      EthereumConfig
	progress *uploadProgress
}

func DialEthereum(ctx context.Context, cfg EthereumConfig) (*Ethereum, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(TraceABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrAnchorSubmission, cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: chain id: %w", domain.ErrAnchorSubmission, err)
		}
	}
	if cfg.MineTimeout <= 0 {
		cfg.MineTimeout = 2 * time.Minute
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &Ethereum{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		key:      key,
		chainID:  chainID,
		cfg:      cfg,
		progress: newUploadProgress(),
	}, nil
}

func (e *Ethereum) Name() string { return "ethereum" }

func (e *Ethereum) Close() { e.client.Close() }

// Submit uploads each record and then the root. A batch ID whose root is
// already on chain is skipped. A retry within the process resumes after the
// records it already uploaded; after a restart a half-uploaded batch is
// uploaded again in full, so its complete run follows the partial one.
func (e *Ethereum) Submit(ctx context.Context, sub domain.AnchorSubmission) error {
	root, err := e.anchoredRoot(ctx, sub.BatchID)
	if err != nil {
		return err
	}
	if root == sub.MerkleRoot {
		e.progress.finish(sub.BatchID)
		return nil
	}

	for i := e.progress.next(sub.BatchID); i < len(sub.Entries); i++ {
		if err := e.transact(ctx, "uploadData", uploadArgs(sub.BatchKey, sub.Entries[i])...); err != nil {
			return err
		}
		e.progress.advance(sub.BatchID, i+1)
	}

	if err := e.transact(ctx, "anchorBatch",
		sub.BatchID, [32]byte(sub.MerkleRoot), big.NewInt(int64(len(sub.Entries))), sub.ContentID); err != nil {
		return err
	}
	e.progress.finish(sub.BatchID)
	return nil
}

// uploadProgress counts, per batch ID, the records already mined.
type uploadProgress struct {
	mu   sync.Mutex
	done map[string]int
}

func newUploadProgress() *uploadProgress {
	return &uploadProgress{done: make(map[string]int)}
}

func (p *uploadProgress) next(batchID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[batchID]
}

func (p *uploadProgress) advance(batchID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.done[batchID] {
		p.done[batchID] = n
	}
}

func (p *uploadProgress) finish(batchID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.done, batchID)
}

func (e *Ethereum) transact(ctx context.Context, method string, args ...any) error {
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return fmt.Errorf("%w: transactor: %w", domain.ErrAnchorSubmission, err)
	}
	opts.Context = ctx
	opts.GasLimit = e.cfg.GasLimit

	tx, err := e.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrAnchorSubmission, method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.MineTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.client, tx)
	if err != nil {
		return fmt.Errorf("%w: wait %s %s: %w", domain.ErrAnchorSubmission, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s reverted", domain.ErrAnchorSubmission, method, tx.Hash().Hex())
	}
	return nil
}

func (e *Ethereum) anchoredRoot(ctx context.Context, batchID string) (domain.Digest, error) {
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "anchoredRoot", batchID); err != nil {
		return domain.Digest{}, fmt.Errorf("%w: anchoredRoot: %w", domain.ErrAnchorSubmission, err)
	}
	if len(out) != 1 {
		return domain.Digest{}, fmt.Errorf("%w: anchoredRoot returned %d values", domain.ErrAnchorSubmission, len(out))
	}
	root, ok := out[0].([32]byte)
	if !ok {
		return domain.Digest{}, fmt.Errorf("%w: anchoredRoot returned %T", domain.ErrAnchorSubmission, out[0])
	}
	return domain.Digest(root), nil
}

func (e *Ethereum) History(ctx context.Context, batchKey string) ([]domain.LedgerEntry, error) {
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTraceHistory", batchKey); err != nil {
		return nil, fmt.Errorf("%w: getTraceHistory: %w", domain.ErrAnchorSubmission, err)
	}
	return decodeHistory(batchKey, out)
}

func uploadArgs(batchKey string, e domain.LedgerEntry) []any {
	return []any{
		batchKey,
		big.NewInt(e.Timestamp),
		big.NewInt(e.Temperature),
		big.NewInt(e.Humidity),
		e.Location,
		e.ProductName,
		[32]byte(e.Digest),
	}
}

var errHistoryShape = errors.New("unexpected getTraceHistory result")

func decodeHistory(batchKey string, out []any) ([]domain.LedgerEntry, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("%w: %d values", errHistoryShape, len(out))
	}
	ts, ok1 := out[0].([]*big.Int)
	temps, ok2 := out[1].([]*big.Int)
	hums, ok3 := out[2].([]*big.Int)
	locs, ok4 := out[3].([]string)
	prods, ok5 := out[4].([]string)
	hashes, ok6 := out[5].([][32]byte)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, fmt.Errorf("%w: types", errHistoryShape)
	}
	n := len(ts)
	if len(temps) != n || len(hums) != n || len(locs) != n || len(prods) != n || len(hashes) != n {
		return nil, fmt.Errorf("%w: ragged arrays", errHistoryShape)
	}

	entries := make([]domain.LedgerEntry, n)
	for i := range entries {
		entries[i] = domain.LedgerEntry{
			BatchKey:    batchKey,
			Timestamp:   ts[i].Int64(),
			Temperature: temps[i].Int64(),
			Humidity:    hums[i].Int64(),
			Location:    locs[i],
			ProductName: prods[i],
			Digest:      domain.Digest(hashes[i]),
		}
	}
	return entries, nil
}

var _ ports.Ledger = (*Ethereum)(nil)
