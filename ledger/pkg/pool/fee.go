package pool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// feeScale returns the fixed-point value of 100% for the given precision.
func feeScale(decimals uint8) *uint256.Int {
	s := uint256.NewInt(100)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < decimals; i++ {
		s = new(uint256.Int).Mul(s, ten)
	}
	return s
}

func (p *Pool) feeScale() *uint256.Int {
	return feeScale(p.cfg.AdminFeeDecimals)
}

func (p *Pool) feePercent() *uint256.Int {
	return uint256.NewInt(p.cfg.AdminFeePercent)
}

// AdminFee returns floor(raised * fee / scale).
func (p *Pool) AdminFee(raised *uint256.Int) *uint256.Int {
	if raised == nil {
		return zero()
	}
	fee, _ := new(uint256.Int).MulDivOverflow(raised, p.feePercent(), p.feeScale())
	return fee
}

// weight is the share of every distribution owed to addr. When the fee is
// paid in tokens the fee recipient holds an extra share of fee/scale of the
// frozen base and every contribution is scaled down by (scale - fee).
func (p *Pool) weight(s *state, addr common.Address) *uint256.Int {
	w := zero()
	if i, ok := s.index[addr]; ok {
		w = s.participants[i].Contributed.Clone()
	}
	if !p.cfg.FeePaidInTokens {
		return w
	}
	net := new(uint256.Int).Sub(p.feeScale(), p.feePercent())
	w = new(uint256.Int).Mul(w, net)
	if addr == p.cfg.FeeRecipient {
		w = new(uint256.Int).Add(w, new(uint256.Int).Mul(s.frozenRaised, p.feePercent()))
	}
	return w
}

func (p *Pool) totalWeight(s *state) *uint256.Int {
	if !p.cfg.FeePaidInTokens {
		return s.frozenRaised.Clone()
	}
	return new(uint256.Int).Mul(s.frozenRaised, p.feeScale())
}

// entitlement returns floor(received * w / total), or zero when nothing was
// raised.
func entitlement(received, w, total *uint256.Int) *uint256.Int {
	if total.IsZero() || w.IsZero() {
		return zero()
	}
	q, _ := new(uint256.Int).MulDivOverflow(received, w, total)
	return q
}
