package pii

import (
	"reflect"
	"testing"
)

func TestBlockingKeyIDsAreStable(t *testing.T) {
	// These ids are part of the on-disk format. If this test fails, a
	// migration renumbered keys under existing blocking_value rows.
	want := map[BlockingKey]int{
		BlockBirthDate: 1, BlockMRN: 2, BlockSex: 3, BlockZip: 4,
		BlockFirstName: 5, BlockLastName: 6, BlockAddress: 7,
		BlockPhone: 8, BlockEmail: 9, BlockIdent: 10,
	}
	for k, id := range want {
		if int(k) != id {
			t.Errorf("%s id = %d, want %d", k, int(k), id)
		}
	}
	if len(BlockingKeys()) != len(want) {
		t.Errorf("BlockingKeys() has %d keys, want %d", len(BlockingKeys()), len(want))
	}
}

func TestBlockingValues(t *testing.T) {
	r := testRecord()
	tests := []struct {
		key  BlockingKey
		want []string
	}{
		{BlockBirthDate, []string{"1980-01-01"}},
		{BlockMRN, []string{"6789"}},
		{BlockSex, []string{"F"}},
		{BlockZip, []string{"15935"}},
		{BlockFirstName, []string{"alej", "jose"}},
		{BlockLastName, []string{"vill"}},
		{BlockAddress, []string{"123 "}},
		{BlockPhone, []string{"4567"}},
		{BlockEmail, []string{"av@e"}},
		{BlockIdent, []string{"mr:ho:6789", "ss:ss:4321"}},
	}
	for _, tt := range tests {
		got := r.BlockingValues(tt.key)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("BlockingValues(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestBlockingValuesBounded(t *testing.T) {
	r := &Record{
		Name: []Name{{Family: "Wolfeschlegelsteinhausenbergerdorff", Given: []string{"Hubert"}}},
		Telecom: []Telecom{
			{Value: "averylongemailaddress@example.com", System: "email"},
		},
	}
	for _, key := range BlockingKeys() {
		for _, v := range r.BlockingValues(key) {
			if len(v) > MaxBlockingValueLen {
				t.Errorf("%s value %q exceeds %d chars", key, v, MaxBlockingValueLen)
			}
			if v == "" {
				t.Errorf("%s yielded empty value", key)
			}
		}
	}
}

func TestBlockingValuesDeduplicated(t *testing.T) {
	r := &Record{Name: []Name{
		{Family: "Villanueva", Given: []string{"Ana"}},
		{Family: "Villanueve", Given: []string{"Ana"}},
	}}
	if got := r.BlockingValues(BlockLastName); !reflect.DeepEqual(got, []string{"vill"}) {
		t.Errorf("BlockingValues(LAST_NAME) = %v, want [vill]", got)
	}
	if got := r.BlockingValues(BlockFirstName); !reflect.DeepEqual(got, []string{"ana"}) {
		t.Errorf("BlockingValues(FIRST_NAME) = %v, want [ana]", got)
	}
}

func TestBlockingValuesEmptyRecord(t *testing.T) {
	r := &Record{}
	for _, key := range BlockingKeys() {
		if got := r.BlockingValues(key); len(got) != 0 {
			t.Errorf("BlockingValues(%s) on empty record = %v", key, got)
		}
	}
}
