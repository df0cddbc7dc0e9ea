package pii

import (
	"fmt"
	"strings"
)

// BlockingKey identifies one deterministic candidate-filtering key. The
// integer ids are part of the on-disk format (mpi_blocking_value.blockingkey)
// and must never be renumbered.
type BlockingKey int

const (
	BlockBirthDate BlockingKey = 1
	BlockMRN       BlockingKey = 2
	BlockSex       BlockingKey = 3
	BlockZip       BlockingKey = 4
	BlockFirstName BlockingKey = 5
	BlockLastName  BlockingKey = 6
	BlockAddress   BlockingKey = 7
	BlockPhone     BlockingKey = 8
	BlockEmail     BlockingKey = 9
	BlockIdent     BlockingKey = 10
)

// MaxBlockingValueLen bounds every derived blocking value; the column is
// varchar(20).
const MaxBlockingValueLen = 20

var blockingKeyNames = map[BlockingKey]string{
	BlockBirthDate: "BIRTHDATE",
	BlockMRN:       "MRN",
	BlockSex:       "SEX",
	BlockZip:       "ZIP",
	BlockFirstName: "FIRST_NAME",
	BlockLastName:  "LAST_NAME",
	BlockAddress:   "ADDRESS",
	BlockPhone:     "PHONE",
	BlockEmail:     "EMAIL",
	BlockIdent:     "IDENTIFIER",
}

var blockingKeysByName = func() map[string]BlockingKey {
	m := make(map[string]BlockingKey, len(blockingKeyNames))
	for k, n := range blockingKeyNames {
		m[n] = k
	}
	return m
}()

func (k BlockingKey) String() string { return blockingKeyNames[k] }

// Valid reports whether k is a known blocking key.
func (k BlockingKey) Valid() bool { _, ok := blockingKeyNames[k]; return ok }

// ParseBlockingKey resolves a key by name.
func ParseBlockingKey(s string) (BlockingKey, bool) {
	k, ok := blockingKeysByName[strings.ToUpper(strings.TrimSpace(s))]
	return k, ok
}

// MarshalText writes the key by name so that embedded configs stay readable.
func (k BlockingKey) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown blocking key %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *BlockingKey) UnmarshalText(b []byte) error {
	parsed, ok := ParseBlockingKey(string(b))
	if !ok {
		return fmt.Errorf("unknown blocking key %q", string(b))
	}
	*k = parsed
	return nil
}

// BlockingKeys returns all keys in id order.
func BlockingKeys() []BlockingKey {
	return []BlockingKey{
		BlockBirthDate, BlockMRN, BlockSex, BlockZip, BlockFirstName,
		BlockLastName, BlockAddress, BlockPhone, BlockEmail, BlockIdent,
	}
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func lastN(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// BlockingValues derives the set of short strings for a key from the record.
// Derivation is pure, empty strings are dropped, duplicates are removed, and
// every value fits in MaxBlockingValueLen.
func (r *Record) BlockingValues(key BlockingKey) []string {
	var raw []string
	switch key {
	case BlockBirthDate:
		raw = r.FieldIter(Feature{Attribute: AttrBirthDate})
	case BlockMRN:
		for _, v := range r.FieldIter(Feature{Attribute: AttrMRN}) {
			raw = append(raw, lastN(v, 4))
		}
	case BlockSex:
		for _, v := range r.FieldIter(Feature{Attribute: AttrSex}) {
			raw = append(raw, strings.ToUpper(v))
		}
	case BlockZip:
		for _, v := range r.FieldIter(Feature{Attribute: AttrZip}) {
			raw = append(raw, firstN(v, 5))
		}
	case BlockFirstName:
		for _, v := range r.FieldIter(Feature{Attribute: AttrFirstName}) {
			raw = append(raw, firstN(v, 4))
		}
	case BlockLastName:
		for _, v := range r.FieldIter(Feature{Attribute: AttrLastName}) {
			raw = append(raw, firstN(v, 4))
		}
	case BlockAddress:
		for _, v := range r.FieldIter(Feature{Attribute: AttrAddress}) {
			raw = append(raw, firstN(v, 4))
		}
	case BlockPhone:
		for _, v := range r.FieldIter(Feature{Attribute: AttrPhone}) {
			digits := digitsOf(v)
			if digits != "" {
				raw = append(raw, lastN(digits, 4))
			}
		}
	case BlockEmail:
		for _, v := range r.FieldIter(Feature{Attribute: AttrEmail}) {
			raw = append(raw, firstN(v, 4))
		}
	case BlockIdent:
		for _, id := range r.Identifiers {
			if id.Value == "" || id.Type == "" {
				continue
			}
			v := strings.ToLower(string(id.Type)) + ":" +
				strings.ToLower(firstN(id.Authority, 2)) + ":" +
				strings.ToLower(lastN(id.Value, 4))
			raw = append(raw, v)
		}
	}

	seen := make(map[string]bool, len(raw))
	out := raw[:0]
	for _, v := range raw {
		v = firstN(v, MaxBlockingValueLen)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
