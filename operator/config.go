package operator

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/orepool/operator/shared"
)

const DefaultMaxCreditsPerTx = 20

func DefaultConfig() Config {
	return Config{
		MaxCreditsPerTx: DefaultMaxCreditsPerTx,
	}
}

//nolint:lll
type Config struct {
	AttributionEpoch uint               `long:"attr-epoch"         description:"Minutes between attribution settlements"                    env:"ATTR_EPOCH"`
	StakeEpoch       uint               `long:"stake-epoch"        description:"Minutes between stake commitments (0 disables them)"        env:"STAKE_EPOCH"`
	Boosts           []shared.PublicKey `long:"boost"              description:"Boost receiving stake commitments (can be repeated)"`
	MaxCreditsPerTx  int                `long:"max-credits-per-tx" description:"Maximum number of member credits in a single transaction"`
}

func (c *Config) Validate() error {
	if c.AttributionEpoch == 0 {
		return errors.New("attribution epoch must be positive")
	}
	if len(c.Boosts) > 0 && c.StakeEpoch == 0 {
		return fmt.Errorf("%d boosts configured without a stake epoch", len(c.Boosts))
	}
	if c.MaxCreditsPerTx <= 0 {
		return fmt.Errorf("invalid max credits per transaction: %d", c.MaxCreditsPerTx)
	}
	seen := make(map[shared.PublicKey]struct{}, len(c.Boosts))
	for _, b := range c.Boosts {
		if b.IsZero() {
			return errors.New("boost key is empty")
		}
		if _, ok := seen[b]; ok {
			return fmt.Errorf("boost %s configured twice", b)
		}
		seen[b] = struct{}{}
	}
	return nil
}

func (c *Config) stakeEnabled() bool {
	return len(c.Boosts) > 0 && c.StakeEpoch > 0
}

func (c *Config) attributionInterval(unit time.Duration) time.Duration {
	return time.Duration(c.AttributionEpoch) * unit
}

func (c *Config) stakeInterval(unit time.Duration) time.Duration {
	return time.Duration(c.StakeEpoch) * unit
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint("attr-epoch", c.AttributionEpoch)
	enc.AddUint("stake-epoch", c.StakeEpoch)
	enc.AddInt("boosts", len(c.Boosts))
	enc.AddInt("max-credits-per-tx", c.MaxCreditsPerTx)
	return nil
}
