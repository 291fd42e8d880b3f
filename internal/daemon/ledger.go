package daemon

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
)

// openLedger restores the stored snapshot, or seeds a fresh ledger from
// the staking section of the config.
func (d *Daemon) openLedger() error {
	sc := &d.cfg.Staking

	snap, err := d.store.LoadSnapshot()
	if err != nil {
		return err
	}

	var owner common.Address
	if snap != nil {
		owner = snap.Owner
	} else if owner, err = sc.OwnerAddress(); err != nil {
		return err
	}

	ledgerCfg := staking.Config{
		Logger:    logging.With(logging.Component("staking")),
		Clock:     d.opts.Clock,
		Owner:     owner,
		Token:     d.token,
		Params:    sc.LedgerParams(),
		Sinks:     []staking.EventSink{d.store, d.hub},
		Observer:  d.prom,
		Persister: d.store,
	}
	if snap == nil {
		ledgerCfg.Tiers = sc.TierSpecs()
	}
	ledger, err := staking.NewService(ledgerCfg)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	d.ledger = ledger

	if snap != nil {
		if err := ledger.Restore(snap); err != nil {
			return fmt.Errorf("failed to restore ledger snapshot: %w", err)
		}
		d.restored = true
		stats := ledger.GetGlobalStats()
		refundMockCustody(d.token, new(big.Int).Add(stats.TotalStaked, stats.RewardPoolBalance))
		logging.Info("ledger restored",
			"seq", snap.Seq,
			"tiers", len(snap.Tiers),
			"stakes", len(snap.Stakes),
			logging.Amount("total_staked", stats.TotalStaked),
			logging.Component("daemon"))
		if sc.Owner != "" && common.HexToAddress(sc.Owner) != owner {
			logging.Warn("configured owner differs from ledger owner; the ledger wins",
				"configured", sc.Owner,
				"ledger", owner.Hex(),
				logging.Component("daemon"))
		}
		return nil
	}

	for _, user := range sc.PremiumAddresses() {
		if err := ledger.SetPremiumUser(owner, user, true); err != nil {
			return fmt.Errorf("failed to seed premium user %s: %w", user.Hex(), err)
		}
	}
	logging.Info("ledger seeded from config",
		"tiers", len(ledgerCfg.Tiers),
		"premium_users", len(sc.PremiumUsers),
		logging.Wallet(owner),
		logging.Component("daemon"))
	return nil
}
