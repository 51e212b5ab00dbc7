package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/eavstore/pkg/eav"
	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/patch"
)

func TestRecordPatchCountsOpcodes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	e, a := ident.New(), ident.New()
	p := patch.Patch{
		patch.SetFlag{Entity: e, Attribute: a},
		patch.SetFloat{Entity: e, Attribute: a, Value: 1},
		patch.SetFloat{Entity: e, Attribute: a, Value: 2},
	}

	m.RecordPatch(p, nil, time.Millisecond)
	m.RecordPatch(p, errors.New("bad"), time.Millisecond)

	if got := testutil.ToFloat64(m.InstructionsAppliedTotal.WithLabelValues(patch.OpSetFloat.String())); got != 2 {
		t.Errorf("SetFloat count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PatchesAppliedTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestUpdateDbStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.UpdateDbStats(eav.Stats{Flags: 3, Tags: 1})

	if got := testutil.ToFloat64(m.DbValues.WithLabelValues("flag")); got != 3 {
		t.Errorf("flag gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.DbValues.WithLabelValues("mesh")); got != 0 {
		t.Errorf("mesh gauge = %v, want 0", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
