package slots

import (
	"encoding/hex"
	"reflect"
	"testing"
)

func TestSelectSlotsGolden(t *testing.T) {
	tests := []struct {
		name  string
		seed  uint32
		start int
		end   int
		count int
		want  []int
	}{
		{
			name: "seed 42 over 64x64 carrier", seed: 42, start: 1536, end: 12288, count: 16,
			want: []int{7472, 9200, 7762, 9166, 9924, 3967, 7732, 9908, 5732, 10847, 9567, 10190, 2263, 3891, 10998, 11288},
		},
		{
			name: "seed 0 exhausts range", seed: 0, start: 1536, end: 1546, count: 10,
			want: []int{1544, 1536, 1542, 1540, 1545, 1539, 1538, 1537, 1541, 1543},
		},
		{
			name: "seed deadbeef", seed: 0xdeadbeef, start: 1536, end: 3072, count: 8,
			want: []int{2231, 2034, 2380, 1632, 2296, 2979, 2394, 2242},
		},
		{
			name: "seed of test key", seed: 620901198, start: 1536, end: 12288, count: 16,
			want: []int{7002, 4411, 10454, 2470, 6657, 11909, 9917, 8270, 8970, 8023, 12262, 6555, 4672, 4103, 6986, 12173},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectSlots(tt.seed, tt.start, tt.end, tt.count)
			if err != nil {
				t.Fatalf("SelectSlots() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectSlots() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectSlotsProperties(t *testing.T) {
	const start, end = 1536, 12288

	a, err := SelectSlots(7, start, end, 2000)
	if err != nil {
		t.Fatalf("SelectSlots() error = %v", err)
	}
	b, _ := SelectSlots(7, start, end, 2000)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("SelectSlots is not deterministic")
	}

	seen := make(map[int]bool, len(a))
	for _, s := range a {
		if s < start || s >= end {
			t.Fatalf("slot %d outside [%d, %d)", s, start, end)
		}
		if seen[s] {
			t.Fatalf("slot %d selected twice", s)
		}
		seen[s] = true
	}

	// A shorter selection is a prefix of a longer one with the same seed.
	prefix, _ := SelectSlots(7, start, end, 100)
	if !reflect.DeepEqual(prefix, a[:100]) {
		t.Error("shorter selection is not a prefix of the longer one")
	}

	other, _ := SelectSlots(8, start, end, 2000)
	if reflect.DeepEqual(a, other) {
		t.Error("different seeds produced identical sequences")
	}
}

func TestSelectSlotsErrors(t *testing.T) {
	if _, err := SelectSlots(1, 1536, 1540, 5); err == nil {
		t.Error("count larger than range should fail")
	}
	if _, err := SelectSlots(1, 1540, 1536, 0); err == nil {
		t.Error("inverted range should fail")
	}
	if _, err := SelectSlots(1, 0, 10, -1); err == nil {
		t.Error("negative count should fail")
	}
	got, err := SelectSlots(1, 1536, 1536, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("empty selection = %v, %v", got, err)
	}
}

func TestDeriveSeed(t *testing.T) {
	key, _ := hex.DecodeString("4e3302257810d4faf2c175ca03abdb242d1258151ab72b2339936fd9bb7e0642")
	seed, err := DeriveSeed(key)
	if err != nil {
		t.Fatalf("DeriveSeed() error = %v", err)
	}
	if seed != 620901198 {
		t.Errorf("DeriveSeed() = %d, want 620901198", seed)
	}
	if _, err := DeriveSeed(key[:3]); err == nil {
		t.Error("DeriveSeed() on 3-byte key should fail")
	}
}
