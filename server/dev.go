package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orepool/operator/aggregator"
	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/shared"
)

// newDevLedger creates the in-memory ledger used when no gateway is
// configured, with the pool and the boosts already opened.
func newDevLedger(ctx context.Context, authority shared.PublicKey, reservoir uint64, boosts []shared.PublicKey) (*ledger.InMemory, error) {
	logger := logging.FromContext(ctx)
	dev := ledger.NewInMemory()
	if err := dev.CreatePool(authority, reservoir); err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	for _, boost := range boosts {
		if err := dev.CreateBoost(boost); err != nil {
			return nil, fmt.Errorf("creating boost: %w", err)
		}
	}
	logger.Warn("no ledger url configured, running on an in-memory development ledger",
		zap.Stringer("pool", authority),
		zap.Uint64("reservoir", reservoir),
	)
	return dev, nil
}

// memberOpener opens a member account in the development ledger for every
// contributor seen, standing in for the registration done by the ingress.
type memberOpener struct {
	source    aggregator.Source
	ledger    *ledger.InMemory
	authority shared.PublicKey
}

func (m *memberOpener) Next(ctx context.Context) (shared.Contribution, error) {
	c, err := m.source.Next(ctx)
	if err != nil {
		return c, err
	}
	err = m.ledger.OpenMember(m.authority, c.Member)
	switch {
	case err == nil:
		logging.FromContext(ctx).Debug("opened member account", zap.Stringer("member", c.Member))
	case !errors.Is(err, ledger.ErrAccountExists):
		return c, fmt.Errorf("opening member account: %w", err)
	}
	return c, nil
}
