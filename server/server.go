package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orepool/operator/aggregator"
	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/operator"
	"github.com/orepool/operator/shared"
	"github.com/orepool/operator/signing"
	"github.com/orepool/operator/transport"
)

// Server wires the contribution queue, the aggregator and the operator.
type Server struct {
	cfg Config

	queue      *transport.Queue
	source     aggregator.Source
	aggregator *aggregator.Aggregator
	operator   *operator.Operator
	client     *ledger.Client
	devLedger  *ledger.InMemory

	metricsListener net.Listener
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := logging.FromContext(ctx)
	if err := cfg.addEnvBoosts(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.DbDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	s, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	keypair, err := signing.NewKeypair(s.PrivKey)
	if err != nil {
		return nil, err
	}
	logger.Info("pool authority", zap.Stringer("key", keypair.PublicKey()))

	queue := transport.NewInMemory()
	server := &Server{
		cfg:    cfg,
		queue:  queue,
		source: queue,
	}

	var backend ledger.Backend
	if cfg.Ledger.URL == "" {
		server.devLedger, err = newDevLedger(ctx, keypair.PublicKey(), cfg.DevReservoir, cfg.Operator.Boosts)
		if err != nil {
			return nil, err
		}
		server.source = &memberOpener{source: queue, ledger: server.devLedger, authority: keypair.PublicKey()}
		backend = server.devLedger
	} else {
		backend, err = ledger.NewHTTPBackend(cfg.Ledger.URL, ledger.WithHTTPLogger(logger.Named("ledger-http")))
		if err != nil {
			return nil, fmt.Errorf("creating ledger backend: %w", err)
		}
	}
	server.client, err = ledger.NewClient(backend, keypair, ledger.WithConfig(cfg.Ledger))
	if err != nil {
		return nil, fmt.Errorf("creating ledger client: %w", err)
	}

	epoch, err := startEpoch(ctx, server.client, cfg.DbDir)
	if err != nil {
		return nil, err
	}
	server.aggregator = aggregator.New(aggregator.WithEpoch(epoch))
	server.operator, err = operator.New(cfg.Operator, server.aggregator, server.client, cfg.DbDir)
	if err != nil {
		return nil, fmt.Errorf("creating operator: %w", err)
	}

	if cfg.MetricsPort != nil {
		addr := fmt.Sprintf(":%d", *cfg.MetricsPort)
		server.metricsListener, err = net.Listen("tcp", addr)
		if err != nil {
			server.operator.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}
	return server, nil
}

// startEpoch continues numbering after the last epoch settled either on the
// ledger or locally. An unreachable ledger is not fatal, the local record
// still prevents reusing a settled epoch.
func startEpoch(ctx context.Context, client *ledger.Client, dbdir string) (uint64, error) {
	logger := logging.FromContext(ctx)
	last, err := operator.LastSettledEpoch(dbdir)
	if err != nil {
		return 0, fmt.Errorf("reading last settled epoch: %w", err)
	}
	pool, err := client.Pool(ctx)
	switch {
	case err != nil:
		logger.Warn("failed to read pool account", zap.Error(err))
	case pool.LastEpoch > last:
		last = pool.LastEpoch
	}
	logger.Info("starting epoch", zap.Uint64("epoch", last+1))
	return last + 1, nil
}

func (s *Server) Close() error {
	s.queue.Close()
	var err error
	if s.metricsListener != nil {
		// already closed if the server was started
		if cerr := s.metricsListener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	return errors.Join(err, s.operator.Close())
}

// Queue accepts validated contributions.
func (s *Server) Queue() *transport.Queue {
	return s.queue
}

// Aggregator serves live scores of members.
func (s *Server) Aggregator() *aggregator.Aggregator {
	return s.aggregator
}

func (s *Server) Operator() *operator.Operator {
	return s.operator
}

// DevLedger returns the in-memory ledger, nil if a gateway is configured.
func (s *Server) DevLedger() *ledger.InMemory {
	return s.devLedger
}

func (s *Server) PublicKey() shared.PublicKey {
	return s.client.Authority()
}

// MetricsAddr returns the address the metrics server listens on, nil if disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Start runs the aggregator and the operator loops until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)
	logger.Info("starting server", zap.Object("config", &s.cfg))

	serverGroup.Go(func() error {
		return s.aggregator.Run(ctx, s.source)
	})
	serverGroup.Go(func() error {
		return s.operator.Run(ctx)
	})

	var server *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := server.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	return nil
}
