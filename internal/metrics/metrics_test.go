package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperationIncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(IdeaOperations.WithLabelValues("edit", "forbidden"))
	ObserveOperation("edit", "forbidden")
	ObserveOperation("edit", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(IdeaOperations.WithLabelValues("edit", "forbidden")))
}

func TestObserveVersion(t *testing.T) {
	before := testutil.ToFloat64(IdeaVersions)
	ObserveVersion()
	assert.Equal(t, before+1, testutil.ToFloat64(IdeaVersions))
}
