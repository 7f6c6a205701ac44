package history

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"blockci-q/internal/model"
)

// Ledger is an append-only, hash-chained, Ed25519-signed run history file.
// Adapted from internal/blockchain/Ledger: JSON-lines on disk, one writer,
// in-memory mirror of everything appended so far.
type Ledger struct {
	mu      sync.Mutex
	Entries []*Entry
	path    string
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
}

// Open loads path's existing entries (if any) and the signing keypair
// under keysDir, creating both on first use. A non-existent path is not
// an error: history is entirely optional and non-fatal per spec §4.11.
func Open(path, keysDir string) (*Ledger, error) {
	pub, priv, err := LoadOrCreateKeyPair(keysDir)
	if err != nil {
		return nil, model.Wrap(model.KindFilesystem, err)
	}

	l := &Ledger{path: path, pub: pub, priv: priv}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, model.Wrap(model.KindFilesystem, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, model.Wrap(model.KindFilesystem, err)
		}
		f.Close()
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Wrap(model.KindFilesystem, err)
	}
	if len(data) == 0 {
		return l, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, model.Wrapf(model.KindParse, "decode history entry: %v", err)
		}
		l.Entries = append(l.Entries, &e)
	}
	return l, nil
}

// NextIndex returns the index the next appended entry should use.
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Entries)
}

// LastHash returns the most recently appended entry's hash, or "" if
// the ledger is empty — the chain's anchor for the first entry.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Entries) == 0 {
		return ""
	}
	return l.Entries[len(l.Entries)-1].Hash
}

// Append signs e, checks it chains to the current last entry, writes it
// to the JSONL file, and keeps it in memory.
func (l *Ledger) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := e.ComputeHash()
	if err != nil {
		return model.Wrapf(model.KindIO, "recompute entry hash: %v", err)
	}
	e.Hash = h

	if len(l.Entries) > 0 {
		last := l.Entries[len(l.Entries)-1]
		if e.PrevHash != last.Hash {
			return model.Wrapf(model.KindValidation, "prevHash mismatch: expected %s, got %s", last.Hash, e.PrevHash)
		}
	}

	e.Signature = SignHash(l.priv, e.Hash)
	e.PubKey = hex.EncodeToString(l.pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return model.Wrap(model.KindFilesystem, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(e); err != nil {
		return model.Wrap(model.KindFilesystem, err)
	}

	l.Entries = append(l.Entries, e)
	return nil
}

// Verify recomputes every entry's hash and link and checks its signature,
// surfacing the first discrepancy found.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.Entries {
		h, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", e.Index, err)
		}
		if h != e.Hash {
			return fmt.Errorf("hash mismatch at index %d", e.Index)
		}
		if i > 0 && e.PrevHash != l.Entries[i-1].Hash {
			return fmt.Errorf("prevHash mismatch at index %d", e.Index)
		}
		if e.Index != i {
			return fmt.Errorf("index mismatch: expected %d, got %d", i, e.Index)
		}
		pubBytes, err := hex.DecodeString(e.PubKey)
		if err != nil || len(pubBytes) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid signing key at index %d", e.Index)
		}
		ok, err := VerifyHash(ed25519.PublicKey(pubBytes), e.Hash, e.Signature)
		if err != nil || !ok {
			return fmt.Errorf("signature verification failed at index %d", e.Index)
		}
	}
	return nil
}
