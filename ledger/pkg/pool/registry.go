package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddToken registers a reward token for distribution. The token must answer a
// balance query for the pool.
func (p *Pool) AddToken(ctx context.Context, caller, token common.Address) error {
	return p.mutate(ctx, "add_token", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("add token", s.lifecycle)
		}
		if token == NativeAsset || token == p.cfg.Address {
			return fmt.Errorf("%s: %w", token.Hex(), ErrInvalidToken)
		}
		if s.tokenIndex(token) >= 0 {
			return fmt.Errorf("%s: %w", token.Hex(), ErrDuplicateToken)
		}
		if _, err := p.cfg.Bank.BalanceOf(ctx, token, p.cfg.Address); err != nil {
			return fmt.Errorf("%s does not report balances: %w: %w", token.Hex(), ErrInvalidToken, err)
		}
		s.tokens = append(s.tokens, token)
		p.emit(s, EventTokenAdd, caller, token, token, nil)
		p.log.Info("pool: token added", "token", token.Hex(), "count", len(s.tokens))
		return nil
	})
}

// RemoveToken unregisters a token by swapping it with the last entry. Claim
// history for the token is kept, so re-adding it resumes where it left off.
func (p *Pool) RemoveToken(ctx context.Context, caller, token common.Address) error {
	return p.mutate(ctx, "remove_token", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		i := s.tokenIndex(token)
		if i < 0 {
			return fmt.Errorf("%s: %w", token.Hex(), ErrTokenNotFound)
		}
		last := len(s.tokens) - 1
		s.tokens[i] = s.tokens[last]
		s.tokens = s.tokens[:last]
		p.emit(s, EventTokenRemove, caller, token, token, nil)
		p.log.Info("pool: token removed", "token", token.Hex(), "count", len(s.tokens))
		return nil
	})
}

func (s *state) tokenIndex(token common.Address) int {
	for i, t := range s.tokens {
		if t == token {
			return i
		}
	}
	return -1
}
