package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordActionDefaultsToOK(t *testing.T) {
	before := testutil.ToFloat64(SessionActionsTotal.WithLabelValues("move", "ok"))
	RecordAction("move", "")
	assert.Equal(t, before+1, testutil.ToFloat64(SessionActionsTotal.WithLabelValues("move", "ok")))
}

func TestRecordSettlementNormalizesLabel(t *testing.T) {
	before := testutil.ToFloat64(SettlementsTotal.WithLabelValues("unknown"))
	RecordSettlement("exploded")
	assert.Equal(t, before+1, testutil.ToFloat64(SettlementsTotal.WithLabelValues("unknown")))

	applied := testutil.ToFloat64(SettlementsTotal.WithLabelValues("applied"))
	RecordSettlement("applied")
	assert.Equal(t, applied+1, testutil.ToFloat64(SettlementsTotal.WithLabelValues("applied")))
}
