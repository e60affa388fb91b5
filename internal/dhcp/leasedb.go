package dhcp

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltLeaseStore is the optional on-disk persistence backend: one
// key-value file per pool, keyed by domain name, written through on every
// offer/lease mutation and loaded back at startup.  It uses go.etcd.io/bbolt
// as its embedded key-value engine.
type BoltLeaseStore struct {
	db *bolt.DB
}

// type check
var _ LeaseStore = (*BoltLeaseStore)(nil)

// OpenBoltLeaseStore opens (creating if necessary) a bbolt file at path for
// use as a pool's LeaseStore.
func OpenBoltLeaseStore(path string) (*BoltLeaseStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening lease db %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketOffers, bucketLeases} {
			if _, bErr := tx.CreateBucketIfNotExists([]byte(bucket)); bErr != nil {
				return bErr
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initializing lease db buckets: %w", err)
	}

	return &BoltLeaseStore{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *BoltLeaseStore) Close() error {
	return s.db.Close()
}

// Save implements the LeaseStore interface for *BoltLeaseStore.
func (s *BoltLeaseStore) Save(bucket, key string, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("no such bucket %q", bucket)
		}

		if val == nil {
			return b.Delete([]byte(key))
		}

		return b.Put([]byte(key), val)
	})
}

// Load implements the LeaseStore interface for *BoltLeaseStore.
func (s *BoltLeaseStore) Load(bucket string) (map[string][]byte, error) {
	out := map[string][]byte{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			val := make([]byte, len(v))
			copy(val, v)
			out[string(k)] = val

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// TLV sizes used to persist a binding's options alongside its IP.
const (
	optCodeLen = 1
	optLenLen  = 1
)

func optionsLen(o OptionSet) int {
	n := 0
	for _, v := range o {
		n += optCodeLen + optLenLen + len(v)
	}

	return n
}

// encodeBinding serializes a binding as its 4-byte IP followed by its
// options encoded as code/length/value TLVs, mirroring the DHCP option wire
// format itself.
func encodeBinding(b *binding) []byte {
	out := make([]byte, 4, 4+optionsLen(b.options))
	copy(out, b.ip[:])

	for code, val := range b.options {
		out = append(out, code, byte(len(val)))
		out = append(out, val...)
	}

	return out
}

// decodeBinding is the inverse of encodeBinding.
func decodeBinding(raw []byte) (*binding, bool) {
	if len(raw) < 4 {
		return nil, false
	}

	b := &binding{options: OptionSet{}}
	copy(b.ip[:], raw[:4])

	rest := raw[4:]
	for i := 0; i < len(rest); {
		if i+2 > len(rest) {
			return nil, false
		}

		code := rest[i]
		length := int(rest[i+1])
		start := i + 2
		end := start + length
		if end > len(rest) {
			return nil, false
		}

		val := make([]byte, length)
		copy(val, rest[start:end])
		b.options[code] = val

		i = end
	}

	return b, true
}
