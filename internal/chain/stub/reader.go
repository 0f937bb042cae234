package stub

import (
	"context"
	"errors"

	"escrow-engine/internal/chain"
)

// ErrNotConfigured is returned when the stub has no data for an address.
var ErrNotConfigured = errors.New("not configured")

// Reader implements chain.Reader for testing.
type Reader struct {
	Mints             map[string]*chain.MintInfo // keyed by mint address
	MintAuthorities   map[string]string          // mint -> mint authority ("" = revoked)
	FreezeAuthorities map[string]string          // mint -> freeze authority ("" = revoked)
	Balances          map[string]uint64          // address -> lamports
	Now               int64                      // chain time
	Err               error                      // returned by every call when set
}

// NewReader creates a new stub chain reader.
func NewReader() *Reader {
	return &Reader{
		Mints:             make(map[string]*chain.MintInfo),
		MintAuthorities:   make(map[string]string),
		FreezeAuthorities: make(map[string]string),
		Balances:          make(map[string]uint64),
	}
}

// VerifyMint returns the configured mint info.
func (r *Reader) VerifyMint(_ context.Context, mint string) (*chain.MintInfo, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	info, ok := r.Mints[mint]
	if !ok {
		return nil, ErrNotConfigured
	}
	infoCopy := *info
	return &infoCopy, nil
}

// Authorities returns the configured mint and freeze authorities.
func (r *Reader) Authorities(_ context.Context, mint string) (string, string, error) {
	if r.Err != nil {
		return "", "", r.Err
	}
	return r.MintAuthorities[mint], r.FreezeAuthorities[mint], nil
}

// Balance returns the configured lamport balance.
func (r *Reader) Balance(_ context.Context, address string) (uint64, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	balance, ok := r.Balances[address]
	if !ok {
		return 0, ErrNotConfigured
	}
	return balance, nil
}

// ChainTime returns the configured time.
func (r *Reader) ChainTime(_ context.Context) (int64, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	return r.Now, nil
}

// Verify interface compliance at compile time.
var _ chain.Reader = (*Reader)(nil)
