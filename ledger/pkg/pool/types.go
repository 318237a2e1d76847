package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeAsset identifies the native value asset in Bank calls.
var NativeAsset = common.Address{}

type State int

const (
	StateOpen State = iota
	StateClosed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	switch s {
	case "open":
		return StateOpen, true
	case "closed":
		return StateClosed, true
	case "cancelled":
		return StateCancelled, true
	}
	return 0, false
}

// Participant is a contributor record. Records are created on the first
// accepted deposit and never removed; a refunded participant keeps its record
// with a zero contribution. Held is the part of Contributed still in custody;
// a close forwards it to the payee and zeroes it.
type Participant struct {
	Address        common.Address
	Contributed    *uint256.Int
	Held           *uint256.Int
	Refunded       bool
	RefundedAmount *uint256.Int
}

func (p *Participant) clone() *Participant {
	return &Participant{
		Address:        p.Address,
		Contributed:    p.Contributed.Clone(),
		Held:           p.Held.Clone(),
		Refunded:       p.Refunded,
		RefundedAmount: p.RefundedAmount.Clone(),
	}
}

// Round is one reimbursement deposit made by an administrator.
type Round struct {
	Number uint64
	Value  *uint256.Int
	At     time.Time
}

// Limits holds the mutable contribution policy.
type Limits struct {
	MaxAllocation   *uint256.Int
	MinContribution *uint256.Int
	MaxContribution *uint256.Int
}

func (l Limits) clone() Limits {
	return Limits{
		MaxAllocation:   l.MaxAllocation.Clone(),
		MinContribution: l.MinContribution.Clone(),
		MaxContribution: l.MaxContribution.Clone(),
	}
}

func zero() *uint256.Int {
	return new(uint256.Int)
}
