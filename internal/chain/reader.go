// Package chain provides read access to on-chain token and account state.
package chain

import (
	"context"
	"fmt"

	"github.com/mr-tron/base58"
)

// MintInfo describes an SPL token mint at read time.
type MintInfo struct {
	Exists   bool
	IsMint   bool
	Supply   uint64 // raw integer supply
	Decimals uint8
}

// Reader defines the on-chain reads the engine needs. Supply and authority
// are always read fresh at evaluation time, never cached, because both can
// change between cycles.
type Reader interface {
	// VerifyMint checks the mint account and returns supply and decimals.
	VerifyMint(ctx context.Context, mint string) (*MintInfo, error)

	// Authorities returns the active mint and freeze authority addresses.
	// Either is "" when revoked.
	Authorities(ctx context.Context, mint string) (mintAuthority, freezeAuthority string, err error)

	// Balance returns the lamport balance of an account.
	Balance(ctx context.Context, address string) (uint64, error)

	// ChainTime returns the current cluster time in unix seconds.
	ChainTime(ctx context.Context) (int64, error)
}

// ValidateAddress checks that an address is well-formed base58 of the
// expected 32-byte length.
func ValidateAddress(address string) error {
	decoded, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("address must decode to 32 bytes, got %d", len(decoded))
	}
	return nil
}
