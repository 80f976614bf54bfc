package containment

import (
	"fmt"
	"time"

	"github.com/meshplane/core/pkg/canonicalize"
	"github.com/meshplane/core/pkg/crypto"
)

// Incident is one immutable record of a containment transition.
// Incidents form an append-only chain: each carries the canonical hash
// of its predecessor and an HMAC signature over its own fields, so a
// reader can detect edits, deletions, and reordering after the fact.
type Incident struct {
	ID          int64       `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Trigger     TriggerKind `json:"trigger"`
	PriorMode   Mode        `json:"prior_mode"`
	NewMode     Mode        `json:"new_mode"`
	Observed    float64     `json:"observed_value"`
	Threshold   float64     `json:"threshold"`
	Description string      `json:"description"`
	PrevHash    string      `json:"prev_hash"`
	Signature   string      `json:"signature"`
}

// signingPayload is the incident with its signature field zeroed, in
// canonical JSON form.
func (inc Incident) signingPayload() ([]byte, error) {
	unsigned := inc
	unsigned.Signature = ""
	return canonicalize.JCS(unsigned)
}

func (inc Incident) sign(signer crypto.Signer) (Incident, error) {
	payload, err := inc.signingPayload()
	if err != nil {
		return Incident{}, fmt.Errorf("canonicalize incident %d: %w", inc.ID, err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return Incident{}, fmt.Errorf("sign incident %d: %w", inc.ID, err)
	}
	inc.Signature = sig
	return inc, nil
}

// chainHash is the canonical hash of the full signed incident, used as
// the next incident's PrevHash.
func (inc Incident) chainHash() (string, error) {
	return canonicalize.CanonicalHash(inc)
}

// VerifyIncidents checks signatures and chain linkage over an incident
// slice in id order. It returns the index of the first bad record.
func VerifyIncidents(incidents []Incident, signer crypto.Signer) error {
	prevHash := ""
	for i, inc := range incidents {
		if inc.ID != int64(i+1) {
			return fmt.Errorf("incident at index %d: id %d breaks sequence", i, inc.ID)
		}
		if inc.PrevHash != prevHash {
			return fmt.Errorf("incident %d: chain broken", inc.ID)
		}
		payload, err := inc.signingPayload()
		if err != nil {
			return fmt.Errorf("incident %d: %w", inc.ID, err)
		}
		if !signer.Verify(payload, inc.Signature) {
			return fmt.Errorf("incident %d: signature mismatch", inc.ID)
		}
		prevHash, err = inc.chainHash()
		if err != nil {
			return fmt.Errorf("incident %d: %w", inc.ID, err)
		}
	}
	return nil
}
