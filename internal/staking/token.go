package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token moves balances between users and the ledger's custody. Both calls
// are synchronous and either fully apply or fail.
type Token interface {
	// Pull moves amount from the user into custody.
	Pull(ctx context.Context, from common.Address, amount *big.Int) error
	// Push moves amount out of custody to the recipient.
	Push(ctx context.Context, to common.Address, amount *big.Int) error
}

type transferDirection uint8

const (
	directionPull transferDirection = iota
	directionPush
)

type transfer struct {
	dir    transferDirection
	party  common.Address
	amount *big.Int
}

// transferBatch runs transfers in order. When one fails the completed ones
// are reversed in reverse order before the error is returned.
type transferBatch struct {
	token Token
	items []transfer
}

func newTransferBatch(token Token) *transferBatch {
	return &transferBatch{token: token}
}

func (b *transferBatch) pull(from common.Address, amount *big.Int) *transferBatch {
	if amount.Sign() > 0 {
		b.items = append(b.items, transfer{dir: directionPull, party: from, amount: amount})
	}
	return b
}

func (b *transferBatch) push(to common.Address, amount *big.Int) *transferBatch {
	if amount.Sign() > 0 {
		b.items = append(b.items, transfer{dir: directionPush, party: to, amount: amount})
	}
	return b
}

func (b *transferBatch) exec(ctx context.Context, op string) error {
	for i, t := range b.items {
		if err := b.run(ctx, t, false); err != nil {
			if cerr := b.compensate(ctx, b.items[:i]); cerr != nil {
				return externalError(op, errors.Join(err, cerr))
			}
			return externalError(op, err)
		}
	}
	return nil
}

func (b *transferBatch) compensate(ctx context.Context, done []transfer) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		// Reversal runs even when the caller's context is done.
		if err := b.run(context.WithoutCancel(ctx), done[i], true); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s %s: %w", done[i].party.Hex(), done[i].amount, err))
		}
	}
	return errors.Join(errs...)
}

func (b *transferBatch) run(ctx context.Context, t transfer, reverse bool) error {
	dir := t.dir
	if reverse {
		dir ^= 1
	}
	if dir == directionPull {
		return b.token.Pull(ctx, t.party, t.amount)
	}
	return b.token.Push(ctx, t.party, t.amount)
}
