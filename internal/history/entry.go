// Package history implements the signed, hash-chained run ledger from
// spec §4.11. Adapted from internal/blockchain/{block,ledger,verify}.go
// and internal/security/signing.go: the block shape (index, prevHash,
// hash, signature, pubkey) and the sign-then-append flow carry over
// unchanged, but a Block becomes an Entry describing a StepResult or a
// run summary instead of an arbitrary job command.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind distinguishes a per-step record from the run-closing record.
type EntryKind string

const (
	KindStep EntryKind = "step"
	KindRun  EntryKind = "run"
)

// Entry is one tamper-evident ledger record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp string    `json:"timestamp"`
	Kind      EntryKind `json:"kind"`
	RunID     string    `json:"runId"`
	Pipeline  string    `json:"pipeline,omitempty"`
	StepName  string    `json:"stepName,omitempty"`
	State     string    `json:"state,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Success   bool      `json:"success,omitempty"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature"`
	PubKey    string    `json:"pubKey"`
}

// canonicalData is the JSON view hashed and signed. Hash, Signature and
// PubKey are intentionally excluded so they can't feed back into the hash
// they authenticate.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index     int       `json:"index"`
		Timestamp string    `json:"timestamp"`
		Kind      EntryKind `json:"kind"`
		RunID     string    `json:"runId"`
		Pipeline  string    `json:"pipeline,omitempty"`
		StepName  string    `json:"stepName,omitempty"`
		State     string    `json:"state,omitempty"`
		ExitCode  int       `json:"exitCode,omitempty"`
		Success   bool      `json:"success,omitempty"`
		PrevHash  string    `json:"prevHash"`
	}{e.Index, e.Timestamp, e.Kind, e.RunID, e.Pipeline, e.StepName, e.State, e.ExitCode, e.Success, e.PrevHash}
	return json.Marshal(view)
}

// ComputeHash returns the SHA-256 hash of e's canonical fields.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewStepEntry builds (but does not sign or append) a step-result entry.
func NewStepEntry(index int, runID, stepName, state string, exitCode int, success bool, prevHash string) (*Entry, error) {
	e := &Entry{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Kind:      KindStep,
		RunID:     runID,
		StepName:  stepName,
		State:     state,
		ExitCode:  exitCode,
		Success:   success,
		PrevHash:  prevHash,
	}
	h, err := e.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}
	e.Hash = h
	return e, nil
}

// NewRunEntry builds the closing entry for a completed run.
func NewRunEntry(index int, runID, pipeline string, success bool, prevHash string) (*Entry, error) {
	e := &Entry{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Kind:      KindRun,
		RunID:     runID,
		Pipeline:  pipeline,
		Success:   success,
		PrevHash:  prevHash,
	}
	h, err := e.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}
	e.Hash = h
	return e, nil
}
