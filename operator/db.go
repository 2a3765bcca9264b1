package operator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	pendingPrefix = []byte("pending/")
	failedPrefix  = []byte("failed/")
	lastEpochKey  = []byte("meta/last-epoch")
)

// settlementStore persists settlements until they are confirmed.
// Failed settlements are kept for manual intervention.
type settlementStore struct {
	db *leveldb.DB
}

func openSettlementStore(dir string) (*settlementStore, error) {
	path := filepath.Join(dir, "settlements")
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement db @ %s: %w", path, err)
	}
	return &settlementStore{db: db}, nil
}

func (s *settlementStore) Close() error {
	return s.db.Close()
}

func settlementKey(prefix []byte, epoch uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], epoch)
	return key
}

func serializeSettlement(settlement *Settlement) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, settlement); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeSettlement(data []byte) (*Settlement, error) {
	settlement := &Settlement{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), settlement); err != nil {
		return nil, err
	}
	return settlement, nil
}

// Save stores a pending settlement, replacing a previous version of it.
func (s *settlementStore) Save(settlement *Settlement) error {
	data, err := serializeSettlement(settlement)
	if err != nil {
		return fmt.Errorf("serializing settlement: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(settlementKey(pendingPrefix, settlement.Epoch), data)
	last, err := s.LastEpoch()
	if err != nil {
		return err
	}
	if settlement.Epoch > last {
		var epoch [8]byte
		binary.BigEndian.PutUint64(epoch[:], settlement.Epoch)
		batch.Put(lastEpochKey, epoch[:])
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing settlement of epoch %d: %w", settlement.Epoch, err)
	}
	return nil
}

// Delete removes a settlement once it is confirmed.
func (s *settlementStore) Delete(settlement *Settlement) error {
	if err := s.db.Delete(settlementKey(pendingPrefix, settlement.Epoch), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("deleting settlement of epoch %d: %w", settlement.Epoch, err)
	}
	return nil
}

// Fail moves a settlement from pending to failed.
func (s *settlementStore) Fail(settlement *Settlement) error {
	data, err := serializeSettlement(settlement)
	if err != nil {
		return fmt.Errorf("serializing settlement: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(settlementKey(pendingPrefix, settlement.Epoch))
	batch.Put(settlementKey(failedPrefix, settlement.Epoch), data)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing failed settlement of epoch %d: %w", settlement.Epoch, err)
	}
	return nil
}

// Pending returns pending settlements by ascending epoch.
func (s *settlementStore) Pending() ([]*Settlement, error) {
	return s.list(pendingPrefix)
}

// Failed returns failed settlements by ascending epoch.
func (s *settlementStore) Failed() ([]*Settlement, error) {
	return s.list(failedPrefix)
}

func (s *settlementStore) list(prefix []byte) ([]*Settlement, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var settlements []*Settlement
	for iter.Next() {
		settlement, err := deserializeSettlement(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("deserializing settlement %X: %w", iter.Key(), err)
		}
		settlements = append(settlements, settlement)
	}
	return settlements, iter.Error()
}

// LastEpoch returns the highest epoch a settlement was stored for.
func (s *settlementStore) LastEpoch() (uint64, error) {
	data, err := s.db.Get(lastEpochKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("reading last epoch: %w", err)
	case len(data) != 8:
		return 0, fmt.Errorf("invalid last epoch record of length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// LastSettledEpoch reads the highest settled epoch from the store in datadir
// without keeping it open.
func LastSettledEpoch(datadir string) (uint64, error) {
	store, err := openSettlementStore(datadir)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.LastEpoch()
}
