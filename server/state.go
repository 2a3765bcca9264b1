package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/signing"
	"github.com/orepool/operator/util"
)

const (
	stateFilename = "state.bin"
	// KeyEnvVar holds the pool authority private key, base58 or base64 encoded.
	KeyEnvVar = "KEYPAIR"
)

type state struct {
	PrivKey []byte
}

func saveState(datadir string, s *state) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

// loadState returns the persisted operator key. A key passed in the
// environment takes precedence but must match the persisted one.
// A new key is generated when neither exists.
func loadState(ctx context.Context, datadir, envKey string) (*state, error) {
	logger := logging.FromContext(ctx)
	var fromEnv []byte
	if envKey != "" {
		key, err := decodeKey(envKey)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", KeyEnvVar, err)
		}
		fromEnv = key
	}

	persisted := &state{}
	err := util.Load(filepath.Join(datadir, stateFilename), persisted)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if fromEnv != nil {
			logger.Info("using operator key from environment")
			return &state{PrivKey: fromEnv}, nil
		}
		logger.Info("generating new operator key")
		keypair, err := signing.GenerateKeypair(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		return &state{PrivKey: keypair.Bytes()}, nil
	case err != nil:
		return nil, err
	}

	if _, err := signing.NewKeypair(persisted.PrivKey); err != nil {
		return nil, fmt.Errorf("persisted key: %w", err)
	}
	if fromEnv != nil && !bytes.Equal(fromEnv, persisted.PrivKey) {
		return nil, fmt.Errorf("key in %s does not match the persisted one in %s", KeyEnvVar, datadir)
	}
	logger.Debug("loaded operator key", zap.String("datadir", datadir))
	return persisted, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := base58.Decode(encoded); err == nil && len(key) == ed25519.PrivateKeySize {
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("neither base58 nor base64")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d", signing.ErrInvalidKeyLen, len(key))
	}
	return key, nil
}
