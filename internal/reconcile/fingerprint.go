// File: internal/reconcile/fingerprint.go

// Package reconcile decides, per flaw, whether this run must create, update
// or skip it on the reporting platform, by comparing content fingerprints
// against the ledger of previous uploads.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/wyatt727/BSTI/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// canonicalPayload is the fingerprinted view of a flaw: only fields whose
// change warrants a platform update, in a fixed field order, with every
// slice sorted. Identity fields (key, title, scope) and machine-local ones
// (screenshot path) stay out.
type canonicalPayload struct {
	Severity        schemas.Severity      `json:"severity"`
	Description     string                `json:"description"`
	Recommendations string                `json:"recommendations"`
	References      []string              `json:"references"`
	Assets          []schemas.Asset       `json:"assets"`
	Tags            []string              `json:"tags"`
	CustomFields    []schemas.CustomField `json:"custom_fields"`
}

// CanonicalPayload renders the flaw's canonical JSON. The same content
// always yields the same bytes regardless of slice order in the input.
func CanonicalPayload(flaw schemas.Flaw) []byte {
	p := canonicalPayload{
		Severity:        flaw.Severity,
		Description:     flaw.Description,
		Recommendations: flaw.Recommendations,
		References:      append([]string(nil), flaw.References...),
		Assets:          append([]schemas.Asset(nil), flaw.AffectedAssets...),
		Tags:            append([]string(nil), flaw.Tags...),
		CustomFields:    append([]schemas.CustomField(nil), flaw.CustomFields...),
	}
	sort.Strings(p.References)
	sort.Strings(p.Tags)
	schemas.SortAssets(p.Assets)
	sort.SliceStable(p.CustomFields, func(i, j int) bool {
		return p.CustomFields[i].Key < p.CustomFields[j].Key
	})

	out, err := json.Marshal(p)
	if err != nil {
		// canonicalPayload contains nothing the encoder can reject.
		panic(err)
	}
	return out
}

// Fingerprint is the SHA-256 hex of the canonical payload.
func Fingerprint(flaw schemas.Flaw) string {
	sum := sha256.Sum256(CanonicalPayload(flaw))
	return hex.EncodeToString(sum[:])
}
