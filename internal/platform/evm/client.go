// Package evm adapts on-chain flash lenders and swap routers to the engine's
// provider and venue ports. All chain interaction happens through eth_call
// style simulation; the engine's internal ledger is the authority for
// balance movement within a settlement.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientConfig holds connection parameters for the EVM RPC client.
type ClientConfig struct {
	// RPCURL is the JSON-RPC endpoint (http, https or wss).
	RPCURL string

	// ChainID is the expected chain. A mismatch with the node is fatal at
	// startup rather than producing wrong-chain calls later.
	ChainID int64
}

// Client wraps an ethclient connection with the chain checks the adapters
// need.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
}

// New dials the RPC endpoint and verifies the node serves the configured
// chain.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("evm: rpc url is required")
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("evm: node serves chain %d, expected %d", chainID.Int64(), cfg.ChainID)
	}

	return &Client{eth: eth, chainID: chainID}, nil
}

// Health verifies the node is reachable by fetching the latest block number.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("evm: health: %w", err)
	}
	return nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Eth returns the underlying ethclient for adapters.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// ChainID returns the chain the client is connected to.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// parseAddress validates and parses a hex contract address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("evm: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// wordToUint64 interprets a 32-byte ABI word as a uint64, rejecting values
// that do not fit. Venue outputs and lender fees beyond uint64 range cannot
// be represented in the engine's ledger.
func wordToUint64(word []byte) (uint64, error) {
	if len(word) != 32 {
		return 0, fmt.Errorf("evm: expected 32-byte word, got %d bytes", len(word))
	}
	v := new(big.Int).SetBytes(word)
	if !v.IsUint64() {
		return 0, fmt.Errorf("evm: value %s exceeds uint64 range", v.String())
	}
	return v.Uint64(), nil
}

// uint64Word ABI-encodes a uint64 as a 32-byte big-endian word.
func uint64Word(v uint64) []byte {
	word := make([]byte, 32)
	new(big.Int).SetUint64(v).FillBytes(word)
	return word
}
