package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/orepool/operator/shared"
)

const (
	defaultListen    = "localhost:8090"
	defaultReservoir = 1_000_000_000
)

// config defines the configuration options for ledgersim.
//
//nolint:lll
type config struct {
	Listen       string             `long:"listen"        description:"The interface/port to serve the ledger gateway on"`
	Pool         *shared.PublicKey  `long:"pool"          description:"Authority of the pool to create"                       env:"POOL"`
	Reservoir    uint64             `long:"reservoir"     description:"Initial reservoir of the pool"`
	PendingStake uint64             `long:"pending-stake" description:"Stake awaiting commitment to boosts"`
	Members      []shared.PublicKey `long:"member"        description:"Member to open in the pool (can be repeated)"`
	Boosts       []shared.PublicKey `long:"boost"         description:"Boost to create (can be repeated)"`
	DebugLog     bool               `long:"debuglog"      description:"Enable debug logs"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	cfg := config{
		Listen:    defaultListen,
		Reservoir: defaultReservoir,
	}

	if _, err := flags.Parse(&cfg); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		return nil, err
	}

	return &cfg, nil
}
