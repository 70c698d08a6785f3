package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/ledger"
)

type shareToken struct {
	totalSupply sdkmath.Int
	balances    map[common.Address]sdkmath.Int
}

func newShareToken() *shareToken {
	return &shareToken{totalSupply: sdkmath.ZeroInt(), balances: make(map[common.Address]sdkmath.Int)}
}

func (s *shareToken) balanceOf(holder common.Address) sdkmath.Int {
	if b, ok := s.balances[holder]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (s *shareToken) mint(to common.Address, amount sdkmath.Int) {
	s.balances[to] = s.balanceOf(to).Add(amount)
	s.totalSupply = s.totalSupply.Add(amount)
}

func (s *shareToken) burn(from common.Address, amount sdkmath.Int) error {
	bal := s.balanceOf(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientShare, from.Hex(), bal, amount)
	}
	s.balances[from] = bal.Sub(amount)
	s.totalSupply = s.totalSupply.Sub(amount)
	return nil
}

func (s *shareToken) move(from, to common.Address, amount sdkmath.Int) error {
	bal := s.balanceOf(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientShare, from.Hex(), bal, amount)
	}
	s.balances[from] = bal.Sub(amount)
	s.balances[to] = s.balanceOf(to).Add(amount)
	return nil
}

// TotalSupply of pool shares.
func (p *Pool) TotalSupply() sdkmath.Int {
	return p.shares.totalSupply
}

// BalanceOf returns holder's pool shares.
func (p *Pool) BalanceOf(holder common.Address) sdkmath.Int {
	return p.shares.balanceOf(holder)
}

// TransferShares moves pool shares from the sender to to.
func (p *Pool) TransferShares(tx *ledger.Tx, to common.Address, amount sdkmath.Int) error {
	if err := p.checkAllowed(tx.Sender()); err != nil {
		return err
	}
	if err := p.shares.move(tx.Sender(), to, amount); err != nil {
		return err
	}
	tx.Gas().Writes(2)
	return nil
}

func (p *Pool) checkAllowed(actor common.Address) error {
	if p.restrictions != nil && !p.restrictions.IsTransferAllowed(actor) {
		return fmt.Errorf("%w: %s", ErrNotAllowed, actor.Hex())
	}
	return nil
}

func (p *Pool) checkMaxTotalSupply(newSupply sdkmath.Int) error {
	if p.restrictions == nil {
		return nil
	}
	max := p.restrictions.MaxTotalSupply(p.address)
	if max.IsPositive() && newSupply.GT(max) {
		return fmt.Errorf("%w: %s > %s", ErrMaxTotalSupply, newSupply, max)
	}
	return nil
}
