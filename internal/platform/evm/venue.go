package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// RouterVenue adapts an on-chain swap router to domain.Venue. A leg's
// instruction is hex calldata carrying the selector and the route-specific
// static arguments; the venue appends the input amount as the final ABI
// word, simulates the call, and reads the output amount from the last word
// of the return data.
type RouterVenue struct {
	id     string
	router common.Address
	client *Client
	logger *slog.Logger
}

// RouterVenueConfig describes one router adapter.
type RouterVenueConfig struct {
	// ID is the registry identifier routes reference in their legs.
	ID string

	// RouterAddress is the swap router contract.
	RouterAddress string
}

// NewRouterVenue creates a RouterVenue from its configuration.
func NewRouterVenue(cfg RouterVenueConfig, client *Client, logger *slog.Logger) (*RouterVenue, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("evm: venue id is required")
	}
	router, err := parseAddress(cfg.RouterAddress)
	if err != nil {
		return nil, err
	}

	return &RouterVenue{
		id:     cfg.ID,
		router: router,
		client: client,
		logger: logger.With(
			slog.String("component", "router_venue"),
			slog.String("venue", cfg.ID),
		),
	}, nil
}

// ID implements domain.Venue.
func (v *RouterVenue) ID() string {
	return v.id
}

// Execute implements domain.Venue. It never interprets the instruction
// beyond decoding it from hex; malformed calldata surfaces as a venue error
// and the coordinator rolls the settlement back.
func (v *RouterVenue) Execute(ctx context.Context, instruction string, asset string, amountIn uint64) (uint64, error) {
	prefix, err := decodeInstruction(instruction)
	if err != nil {
		return 0, fmt.Errorf("evm: venue %s: %w", v.id, err)
	}

	calldata := make([]byte, 0, len(prefix)+32)
	calldata = append(calldata, prefix...)
	calldata = append(calldata, uint64Word(amountIn)...)

	out, err := v.client.Eth().CallContract(ctx, ethereum.CallMsg{
		To:   &v.router,
		Data: calldata,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: venue %s call: %w", v.id, err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("evm: venue %s returned %d bytes, expected at least 32", v.id, len(out))
	}

	amountOut, err := wordToUint64(out[len(out)-32:])
	if err != nil {
		return 0, fmt.Errorf("evm: venue %s result: %w", v.id, err)
	}

	v.logger.DebugContext(ctx, "leg executed",
		slog.String("asset", asset),
		slog.Uint64("amount_in", amountIn),
		slog.Uint64("amount_out", amountOut),
	)

	return amountOut, nil
}

// decodeInstruction parses hex calldata, requiring at least a 4-byte
// selector.
func decodeInstruction(instruction string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(instruction, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid instruction hex: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("instruction too short: %d bytes", len(raw))
	}
	return raw, nil
}

// Compile-time interface check.
var _ domain.Venue = (*RouterVenue)(nil)
