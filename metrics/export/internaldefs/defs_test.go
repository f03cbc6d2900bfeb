package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authsession"
)

func TestEveryCounterIsDefinedOnce(t *testing.T) {
	seen := map[authsession.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if def.ID.IsHistogram() {
			t.Fatalf("%s is a histogram id", def.Name)
		}
		if seen[def.ID] || names[def.Name] {
			t.Fatalf("duplicate definition %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, Namespace+"_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %s", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if !def.ID.IsHistogram() {
			t.Fatalf("%s is not a histogram id", def.Name)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("CumulativeBuckets = %v, want %v", got, want)
	}
	if b := UpperBounds(); len(b) != BucketCount-1 || b[0] != 0.005 {
		t.Fatalf("unexpected bounds %v", b)
	}
}
