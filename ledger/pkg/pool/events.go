package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventDeposit              EventKind = "deposit"
	EventRefund               EventKind = "refund"
	EventAllocationRefund     EventKind = "allocation_refund"
	EventClose                EventKind = "close"
	EventOpen                 EventKind = "open"
	EventCancel               EventKind = "cancel"
	EventWhitelistAdd         EventKind = "whitelist_add"
	EventWhitelistRemove      EventKind = "whitelist_remove"
	EventMaxAllocation        EventKind = "max_allocation"
	EventContributionLimits   EventKind = "contribution_limits"
	EventTokenAdd             EventKind = "token_add"
	EventTokenRemove          EventKind = "token_remove"
	EventClaim                EventKind = "claim"
	EventReimbursementProject EventKind = "reimbursement_project"
	EventReimbursement        EventKind = "reimbursement"
	EventAdminFeeWithdraw     EventKind = "admin_fee_withdraw"
)

// Event records one committed state change. Subject is the address the change
// is about (participant, payee, token); Asset is set for value movements.
type Event struct {
	ID      uuid.UUID
	Seq     uint64
	At      time.Time
	Kind    EventKind
	Pool    common.Address
	Actor   common.Address
	Subject common.Address
	Asset   common.Address
	Amount  *uint256.Int
}

func (p *Pool) emit(s *state, kind EventKind, actor, subject, asset common.Address, amount *uint256.Int) {
	s.seq++
	if amount == nil {
		amount = zero()
	}
	p.pending = append(p.pending, Event{
		ID:      uuid.New(),
		Seq:     s.seq,
		At:      p.cfg.Clock.Now().UTC(),
		Kind:    kind,
		Pool:    p.cfg.Address,
		Actor:   actor,
		Subject: subject,
		Asset:   asset,
		Amount:  amount.Clone(),
	})
}
