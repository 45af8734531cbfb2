package evm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// flashFeeSelector is the 4-byte selector of the ERC-3156
// flashFee(address,uint256) view.
var flashFeeSelector = ethcrypto.Keccak256([]byte("flashFee(address,uint256)"))[:4]

// FlashLender adapts an ERC-3156 style flash lender contract to
// domain.LoanProvider. The fee is read from the contract before each grant;
// the grant callback is invoked synchronously, matching the contract's
// borrow-callback-repay shape.
type FlashLender struct {
	id     string
	lender common.Address
	assets map[string]common.Address
	client *Client
	logger *slog.Logger
}

// FlashLenderConfig describes one lender adapter.
type FlashLenderConfig struct {
	// ID is the registry identifier the coordinator trusts or rejects.
	ID string

	// LenderAddress is the flash lender contract.
	LenderAddress string

	// Assets maps the engine's asset symbols to token contract addresses.
	Assets map[string]string
}

// NewFlashLender creates a FlashLender from its configuration.
func NewFlashLender(cfg FlashLenderConfig, client *Client, logger *slog.Logger) (*FlashLender, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("evm: lender id is required")
	}
	lender, err := parseAddress(cfg.LenderAddress)
	if err != nil {
		return nil, err
	}

	assets := make(map[string]common.Address, len(cfg.Assets))
	for symbol, addr := range cfg.Assets {
		parsed, err := parseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("evm: lender %s asset %s: %w", cfg.ID, symbol, err)
		}
		assets[symbol] = parsed
	}

	return &FlashLender{
		id:     cfg.ID,
		lender: lender,
		assets: assets,
		client: client,
		logger: logger.With(
			slog.String("component", "flash_lender"),
			slog.String("provider", cfg.ID),
		),
	}, nil
}

// ID implements domain.LoanProvider.
func (l *FlashLender) ID() string {
	return l.id
}

// RequestLoan implements domain.LoanProvider. It queries the lender's fee
// for the requested amount, then hands the grant to the sink. The sink's
// verdict is the loan's verdict: a callback error means the settlement did
// not commit and is returned unchanged.
func (l *FlashLender) RequestLoan(ctx context.Context, asset string, amount uint64, data domain.ContinuationData, sink domain.LoanSink) error {
	token, ok := l.assets[asset]
	if !ok {
		return fmt.Errorf("evm: lender %s does not serve asset %s", l.id, asset)
	}

	fee, err := l.flashFee(ctx, token, amount)
	if err != nil {
		return err
	}

	l.logger.DebugContext(ctx, "loan granted",
		slog.String("asset", asset),
		slog.Uint64("amount", amount),
		slog.Uint64("fee", fee),
		slog.Int64("route_id", data.RouteID),
	)

	grant := domain.LoanGrant{
		ProviderID: l.id,
		Asset:      asset,
		Amount:     amount,
		Fee:        fee,
		Data:       data,
	}

	return sink.OnLoanGranted(ctx, grant)
}

// flashFee reads flashFee(token, amount) from the lender contract via
// eth_call.
func (l *FlashLender) flashFee(ctx context.Context, token common.Address, amount uint64) (uint64, error) {
	calldata := make([]byte, 0, 4+64)
	calldata = append(calldata, flashFeeSelector...)
	calldata = append(calldata, common.LeftPadBytes(token.Bytes(), 32)...)
	calldata = append(calldata, uint64Word(amount)...)

	out, err := l.client.Eth().CallContract(ctx, ethereum.CallMsg{
		To:   &l.lender,
		Data: calldata,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: lender %s flashFee call: %w", l.id, err)
	}

	fee, err := wordToUint64(out)
	if err != nil {
		return 0, fmt.Errorf("evm: lender %s flashFee result: %w", l.id, err)
	}
	return fee, nil
}

// Compile-time interface check.
var _ domain.LoanProvider = (*FlashLender)(nil)
