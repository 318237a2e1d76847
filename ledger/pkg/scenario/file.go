package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

// File is a scenario: a pool configuration, starting balances, an ordered list
// of steps and the balances expected at the end. Amounts are decimal strings.
type File struct {
	Name     string     `json:"name"`
	Pool     PoolSpec   `json:"pool"`
	Assets   []Asset    `json:"assets"`
	Balances []Balance  `json:"balances"`
	Steps    []Step     `json:"steps"`
	Expect   []Expected `json:"expect"`
}

type PoolSpec struct {
	Address          common.Address   `json:"address"`
	Admins           []common.Address `json:"admins"`
	Payee            common.Address   `json:"payee"`
	FeeRecipient     common.Address   `json:"fee_recipient"`
	MaxAllocation    string           `json:"max_allocation"`
	MinContribution  string           `json:"min_contribution"`
	MaxContribution  string           `json:"max_contribution"`
	AdminFeePercent  uint64           `json:"admin_fee_percent"`
	AdminFeeDecimals uint8            `json:"admin_fee_decimals"`
	FeePaidInTokens  bool             `json:"fee_paid_in_tokens"`
	WhitelistEnabled bool             `json:"whitelist_enabled"`
}

// Asset registers a token with the in-memory bank.
type Asset struct {
	Address common.Address `json:"address"`
	Mode    string         `json:"mode"`
}

// Balance mints Amount of Asset to Holder. The zero asset is native value.
type Balance struct {
	Holder common.Address `json:"holder"`
	Asset  common.Address `json:"asset"`
	Amount string         `json:"amount"`
}

// Expected is a balance checked after the last step.
type Expected struct {
	Holder common.Address `json:"holder"`
	Asset  common.Address `json:"asset"`
	Amount string         `json:"amount"`
}

// Step is one pool operation or bank action. Which fields are read depends
// on Op.
type Step struct {
	Op          string           `json:"op"`
	Caller      common.Address   `json:"caller"`
	Amount      string           `json:"amount,omitempty"`
	Address     common.Address   `json:"address"`
	Addresses   []common.Address `json:"addresses,omitempty"`
	Token       common.Address   `json:"token"`
	Start       uint64           `json:"start,omitempty"`
	End         uint64           `json:"end,omitempty"`
	Min         string           `json:"min,omitempty"`
	Max         string           `json:"max,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	ExpectError string           `json:"expect_error,omitempty"`
}

// Load decodes a scenario, rejecting unknown fields.
func Load(r io.Reader) (File, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// LoadFile reads a scenario from disk.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read scenario: %w", err)
	}
	f, err := Load(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks that every step names a known op and every expected error
// names a known kind.
func (f *File) Validate() error {
	for i, s := range f.Steps {
		if _, ok := ops[s.Op]; !ok {
			return fmt.Errorf("step %d: unknown op %q", i, s.Op)
		}
		if s.ExpectError != "" {
			if _, ok := pool.ErrorForKind(s.ExpectError); !ok {
				return fmt.Errorf("step %d: unknown error kind %q", i, s.ExpectError)
			}
		}
	}
	return nil
}

// amount parses an optional decimal amount. The empty string is nil.
func amount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
