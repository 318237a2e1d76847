package pool

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot is a serializable copy of a pool's ledger. Amounts are decimal
// strings.
type Snapshot struct {
	Pool    common.Address `json:"pool"`
	Seq     uint64         `json:"seq"`
	TakenAt time.Time      `json:"taken_at"`

	Admins           []common.Address `json:"admins"`
	Payee            common.Address   `json:"payee"`
	FeeRecipient     common.Address   `json:"fee_recipient"`
	AdminFeePercent  uint64           `json:"admin_fee_percent"`
	AdminFeeDecimals uint8            `json:"admin_fee_decimals"`
	FeePaidInTokens  bool             `json:"fee_paid_in_tokens"`
	WhitelistEnabled bool             `json:"whitelist_enabled"`

	State           string `json:"state"`
	MaxAllocation   string `json:"max_allocation"`
	MinContribution string `json:"min_contribution"`
	MaxContribution string `json:"max_contribution"`

	TotalRaised      string `json:"total_raised"`
	Held             string `json:"held"`
	DistributionBase string `json:"distribution_base"`
	FeeCharged       string `json:"fee_charged"`
	FeeRetained      string `json:"fee_retained"`

	Participants []ParticipantSnapshot `json:"participants"`
	Whitelist    []common.Address      `json:"whitelist"`

	Tokens      []common.Address          `json:"tokens"`
	Claims      []ClaimSnapshot           `json:"claims"`
	Distributed map[common.Address]string `json:"distributed"`

	ReimbursementTotal string                    `json:"reimbursement_total"`
	ReimbursementPaid  string                    `json:"reimbursement_paid"`
	Reimbursed         map[common.Address]string `json:"reimbursed"`
	Rounds             []RoundSnapshot           `json:"rounds"`
}

type ParticipantSnapshot struct {
	Address        common.Address `json:"address"`
	Contributed    string         `json:"contributed"`
	Held           string         `json:"held,omitempty"`
	Refunded       bool           `json:"refunded"`
	RefundedAmount string         `json:"refunded_amount"`
}

type ClaimSnapshot struct {
	Token   common.Address `json:"token"`
	Address common.Address `json:"address"`
	Amount  string         `json:"amount"`
}

type RoundSnapshot struct {
	Number uint64    `json:"number"`
	Value  string    `json:"value"`
	At     time.Time `json:"at"`
}

// Snapshot captures the current ledger.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state

	snap := Snapshot{
		Pool:               p.cfg.Address,
		Seq:                s.seq,
		TakenAt:            p.cfg.Clock.Now().UTC(),
		Admins:             append([]common.Address(nil), p.cfg.Admins...),
		Payee:              p.cfg.Payee,
		FeeRecipient:       p.cfg.FeeRecipient,
		AdminFeePercent:    p.cfg.AdminFeePercent,
		AdminFeeDecimals:   p.cfg.AdminFeeDecimals,
		FeePaidInTokens:    p.cfg.FeePaidInTokens,
		WhitelistEnabled:   p.cfg.WhitelistEnabled,
		State:              s.lifecycle.String(),
		MaxAllocation:      s.limits.MaxAllocation.Dec(),
		MinContribution:    s.limits.MinContribution.Dec(),
		MaxContribution:    s.limits.MaxContribution.Dec(),
		TotalRaised:        s.totalRaised.Dec(),
		Held:               s.held.Dec(),
		DistributionBase:   s.frozenRaised.Dec(),
		FeeCharged:         s.feeCharged.Dec(),
		FeeRetained:        s.feeRetained.Dec(),
		Tokens:             append([]common.Address(nil), s.tokens...),
		Distributed:        make(map[common.Address]string, len(s.distributed)),
		ReimbursementTotal: s.reimbursementTotal.Dec(),
		ReimbursementPaid:  s.reimbursementPaid.Dec(),
		Reimbursed:         make(map[common.Address]string, len(s.reimbursed)),
	}
	for _, part := range s.participants {
		snap.Participants = append(snap.Participants, ParticipantSnapshot{
			Address:        part.Address,
			Contributed:    part.Contributed.Dec(),
			Held:           part.Held.Dec(),
			Refunded:       part.Refunded,
			RefundedAmount: part.RefundedAmount.Dec(),
		})
	}
	for a := range s.whitelist {
		snap.Whitelist = append(snap.Whitelist, a)
	}
	sortAddresses(snap.Whitelist)
	for token, m := range s.claimed {
		for addr, amount := range m {
			snap.Claims = append(snap.Claims, ClaimSnapshot{Token: token, Address: addr, Amount: amount.Dec()})
		}
	}
	sortClaims(snap.Claims)
	for token, amount := range s.distributed {
		snap.Distributed[token] = amount.Dec()
	}
	for addr, amount := range s.reimbursed {
		snap.Reimbursed[addr] = amount.Dec()
	}
	for _, r := range s.rounds {
		snap.Rounds = append(snap.Rounds, RoundSnapshot{Number: r.Number, Value: r.Value.Dec(), At: r.At})
	}
	return snap
}

// Restore rebuilds a pool from a snapshot. Runtime collaborators come from cfg;
// the snapshot must belong to cfg.Address.
func Restore(cfg Config, snap Snapshot) (*Pool, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if snap.Pool != p.cfg.Address {
		return nil, fmt.Errorf("snapshot of %s cannot restore pool %s", snap.Pool.Hex(), p.cfg.Address.Hex())
	}

	s := newState(&p.cfg)
	var ok bool
	if s.lifecycle, ok = ParseState(snap.State); !ok {
		return nil, fmt.Errorf("unknown pool state %q", snap.State)
	}
	s.seq = snap.Seq

	d := decoder{}
	s.limits.MaxAllocation = d.amount("max_allocation", snap.MaxAllocation)
	s.limits.MinContribution = d.amount("min_contribution", snap.MinContribution)
	s.limits.MaxContribution = d.amount("max_contribution", snap.MaxContribution)
	s.totalRaised = d.amount("total_raised", snap.TotalRaised)
	s.held = d.amount("held", snap.Held)
	s.frozenRaised = d.amount("distribution_base", snap.DistributionBase)
	s.feeCharged = d.amount("fee_charged", snap.FeeCharged)
	s.feeRetained = d.amount("fee_retained", snap.FeeRetained)
	s.reimbursementTotal = d.amount("reimbursement_total", snap.ReimbursementTotal)
	s.reimbursementPaid = d.amount("reimbursement_paid", snap.ReimbursementPaid)

	for i, ps := range snap.Participants {
		if _, dup := s.index[ps.Address]; dup {
			return nil, fmt.Errorf("duplicate participant %s in snapshot", ps.Address.Hex())
		}
		held := zero()
		if ps.Held != "" {
			held = d.amount("participant held", ps.Held)
		}
		s.participants = append(s.participants, &Participant{
			Address:        ps.Address,
			Contributed:    d.amount("contributed", ps.Contributed),
			Held:           held,
			Refunded:       ps.Refunded,
			RefundedAmount: d.amount("refunded_amount", ps.RefundedAmount),
		})
		s.index[ps.Address] = i
	}
	for _, a := range snap.Whitelist {
		s.whitelist[a] = struct{}{}
	}
	s.tokens = append(s.tokens, snap.Tokens...)
	for _, c := range snap.Claims {
		if s.claimed[c.Token] == nil {
			s.claimed[c.Token] = make(map[common.Address]*uint256.Int)
		}
		s.claimed[c.Token][c.Address] = d.amount("claim", c.Amount)
	}
	for token, amount := range snap.Distributed {
		s.distributed[token] = d.amount("distributed", amount)
	}
	for addr, amount := range snap.Reimbursed {
		s.reimbursed[addr] = d.amount("reimbursed", amount)
	}
	for _, r := range snap.Rounds {
		s.rounds = append(s.rounds, Round{Number: r.Number, Value: d.amount("round", r.Value), At: r.At})
	}
	if d.err != nil {
		return nil, d.err
	}
	if err := s.checkAccounting(); err != nil {
		return nil, fmt.Errorf("inconsistent snapshot: %w", err)
	}

	p.state = s
	return p, nil
}

// checkAccounting verifies the identities every committed state satisfies.
func (s *state) checkAccounting() error {
	contributed, held := zero(), zero()
	for _, part := range s.participants {
		if part.Refunded && !part.Contributed.IsZero() {
			return fmt.Errorf("refunded participant %s still contributes %s", part.Address.Hex(), part.Contributed)
		}
		if part.Held.Gt(part.Contributed) {
			return fmt.Errorf("participant %s holds %s of a %s contribution", part.Address.Hex(), part.Held, part.Contributed)
		}
		var overflow bool
		if contributed, overflow = new(uint256.Int).AddOverflow(contributed, part.Contributed); overflow {
			return errors.New("contributions overflow")
		}
		held = new(uint256.Int).Add(held, part.Held)
	}
	if !contributed.Eq(s.totalRaised) {
		return fmt.Errorf("total raised %s does not match contributions %s", s.totalRaised, contributed)
	}
	if !held.Eq(s.held) {
		return fmt.Errorf("held %s does not match participant stakes %s", s.held, held)
	}
	if s.held.Gt(s.totalRaised) {
		return fmt.Errorf("held %s exceeds total raised %s", s.held, s.totalRaised)
	}
	if s.reimbursementPaid.Gt(s.reimbursementTotal) {
		return fmt.Errorf("reimbursements paid %s exceed total %s", s.reimbursementPaid, s.reimbursementTotal)
	}
	return nil
}

// decoder parses decimal amounts and keeps the first error.
type decoder struct {
	err error
}

func (d *decoder) amount(field, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("failed to parse %s %q: %w", field, s, err)
		}
		return zero()
	}
	return v
}

func sortAddresses(addrs []common.Address) {
	slices.SortFunc(addrs, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
}

func sortClaims(claims []ClaimSnapshot) {
	slices.SortFunc(claims, func(a, b ClaimSnapshot) int {
		if c := bytes.Compare(a.Token[:], b.Token[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Address[:], b.Address[:])
	})
}
