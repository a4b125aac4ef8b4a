// Package fingerprint canonicalizes fetch parameters into stable identity
// keys. Keys are invariant under map iteration order: names are sorted before
// encoding.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Deterministic encoding (RFC 8949 Core Deterministic) so equal parameter
// sets always produce identical bytes.
var enc cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	enc = em
}

type pair struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value any
}

// Key digests params into a 16-hex-char identity string. Pure and total:
// values CBOR cannot encode fall back to their fmt representation rather
// than failing.
func Key(params map[string]any) string {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	pairs := make([]pair, 0, len(names))
	for _, n := range names {
		pairs = append(pairs, pair{Name: n, Value: params[n]})
	}

	b, err := enc.Marshal(pairs)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", pairs))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
