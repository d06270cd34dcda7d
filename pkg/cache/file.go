package cache

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/pion/logging"
)

// fileFormatVersion is written in every cache file.
const fileFormatVersion = 1

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Path is the cache file. Required.
	Path string

	// Rand generates the self ZID when the file does not exist yet.
	// Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// FileStore is a Store persisted to a CBOR file. The whole cache is kept
// in memory and rewritten on every update through a temporary file and a
// rename, so a crash never leaves a half written cache.
//
// Thread Safety: All methods are safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
	enc  cbor.EncMode
	log  logging.LeveledLogger
}

type fileFormat struct {
	Version int                    `cbor:"1,keyasint"`
	SelfZID []byte                 `cbor:"2,keyasint"`
	Peers   map[string]*peerRecord `cbor:"3,keyasint,omitempty"`
}

type peerRecord struct {
	RS1                   []byte `cbor:"1,keyasint,omitempty"`
	RS2                   []byte `cbor:"2,keyasint,omitempty"`
	Aux                   []byte `cbor:"3,keyasint,omitempty"`
	PBX                   []byte `cbor:"4,keyasint,omitempty"`
	PreviouslyVerifiedSAS bool   `cbor:"5,keyasint,omitempty"`
}

// OpenFileStore loads the cache file at config.Path, creating it with a
// fresh self ZID if it does not exist.
func OpenFileStore(config FileStoreConfig) (*FileStore, error) {
	if config.Path == "" {
		return nil, ErrNoPath
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	f := &FileStore{
		path: config.Path,
		enc:  enc,
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("zrtp-cache")
	}

	data, err := os.ReadFile(config.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		zid, err := NewZID(config.Rand)
		if err != nil {
			return nil, err
		}
		f.mem = NewMemoryStore(zid)
		if f.log != nil {
			f.log.Infof("creating cache %s with ZID %s", config.Path, zid)
		}
		if err := f.write(f.snapshot()); err != nil {
			return nil, err
		}
		return f, nil
	case err != nil:
		return nil, err
	}

	if err := f.load(data); err != nil {
		return nil, err
	}
	if f.log != nil {
		f.log.Debugf("loaded cache %s: %d peers", config.Path, len(f.mem.peers))
	}
	return f, nil
}

func (f *FileStore) load(data []byte) error {
	var ff fileFormat
	if err := cbor.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if ff.Version != fileFormatVersion || len(ff.SelfZID) != ZIDLength {
		return ErrCorrupt
	}

	var self ZID
	copy(self[:], ff.SelfZID)
	f.mem = NewMemoryStore(self)
	for key, rec := range ff.Peers {
		peer, err := ParseZID(key)
		if err != nil || rec == nil {
			return ErrCorrupt
		}
		f.mem.peers[peer] = &Secrets{
			RS1:                   rec.RS1,
			RS2:                   rec.RS2,
			Aux:                   rec.Aux,
			PBX:                   rec.PBX,
			PreviouslyVerifiedSAS: rec.PreviouslyVerifiedSAS,
		}
	}
	return nil
}

// snapshot returns the file form of the in-memory cache.
func (f *FileStore) snapshot() fileFormat {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()

	ff := fileFormat{
		Version: fileFormatVersion,
		SelfZID: append([]byte(nil), f.mem.selfZID[:]...),
		Peers:   make(map[string]*peerRecord, len(f.mem.peers)),
	}
	for peer, s := range f.mem.peers {
		ff.Peers[peer.String()] = newPeerRecord(s)
	}
	return ff
}

func newPeerRecord(s *Secrets) *peerRecord {
	return &peerRecord{
		RS1:                   s.RS1,
		RS2:                   s.RS2,
		Aux:                   s.Aux,
		PBX:                   s.PBX,
		PreviouslyVerifiedSAS: s.PreviouslyVerifiedSAS,
	}
}

// write replaces the cache file with ff through a temporary file.
func (f *FileStore) write(ff fileFormat) error {
	data, err := f.enc.Marshal(ff)
	if err != nil {
		return err
	}
	defer crypto.Wipe(data)

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// update applies change to a copy of the record of peer, writes the file
// with the copy in place and only then commits the copy to memory. A failed
// write leaves the cache as it was. change returning nil removes the peer.
// Callers hold f.mu.
func (f *FileStore) update(peer ZID, change func(s *Secrets) *Secrets) error {
	cur, err := f.mem.GetSecrets(peer)
	if err != nil {
		return err
	}
	next := change(cur)

	ff := f.snapshot()
	if next == nil {
		delete(ff.Peers, peer.String())
	} else {
		ff.Peers[peer.String()] = newPeerRecord(next)
	}
	if err := f.write(ff); err != nil {
		if next != nil {
			next.Wipe()
		}
		return err
	}
	f.mem.replace(peer, next)
	return nil
}

// SelfZID implements Store.
func (f *FileStore) SelfZID() (ZID, error) {
	return f.mem.SelfZID()
}

// GetSecrets implements Store.
func (f *FileStore) GetSecrets(peer ZID) (*Secrets, error) {
	return f.mem.GetSecrets(peer)
}

// PutRS1 implements Store.
func (f *FileStore) PutRS1(peer ZID, rs1 []byte) error {
	if len(rs1) != RetainedSecretLength {
		return ErrInvalidSecret
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.update(peer, func(s *Secrets) *Secrets {
		crypto.Wipe(s.RS2)
		s.RS2, s.RS1 = s.RS1, cloneBytes(rs1)
		return s
	})
	if err != nil {
		return err
	}
	if f.log != nil {
		f.log.Debugf("rotated retained secret for peer %s", peer)
	}
	return nil
}

// SetPreviouslyVerifiedSAS implements Store.
func (f *FileStore) SetPreviouslyVerifiedSAS(peer ZID, verified bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.update(peer, func(s *Secrets) *Secrets {
		s.PreviouslyVerifiedSAS = verified
		return s
	})
}

// SetAux stores a long term auxiliary secret for peer.
func (f *FileStore) SetAux(peer ZID, aux []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.update(peer, func(s *Secrets) *Secrets {
		crypto.Wipe(s.Aux)
		s.Aux = cloneBytes(aux)
		return s
	})
}

// SetPBX stores the trusted MiTM secret for peer.
func (f *FileStore) SetPBX(peer ZID, pbx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.update(peer, func(s *Secrets) *Secrets {
		crypto.Wipe(s.PBX)
		s.PBX = cloneBytes(pbx)
		return s
	})
}

// Forget removes everything cached for peer.
func (f *FileStore) Forget(peer ZID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.update(peer, func(s *Secrets) *Secrets {
		s.Wipe()
		return nil
	})
	if err != nil {
		return err
	}
	if f.log != nil {
		f.log.Infof("forgot peer %s", peer)
	}
	return nil
}

// Peers returns the ZIDs of all cached peers in ascending order.
func (f *FileStore) Peers() []ZID {
	return f.mem.Peers()
}
