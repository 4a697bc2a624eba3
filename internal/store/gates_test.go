package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateEdges_CoversAllFourGates(t *testing.T) {
	for _, g := range []Gate{GateAssets, GateVideo, GateAudio, GateFinal} {
		edge, ok := gateEdges[g]
		assert.True(t, ok, "gate %s must have edges defined", g)
		assert.True(t, GateStatuses[edge.reviewing], "gate %s review status must be a mandatory gate status", g)
		assert.True(t, terminalStatuses[edge.rejected], "gate %s rejection target must be terminal", g)
	}
}

func TestGateEdges_ApprovedSuccessorIsLegalFromReviewStatus(t *testing.T) {
	for g, edge := range gateEdges {
		assert.True(t, legalTransition(edge.reviewing, edge.approved), "gate %s approve edge must be legal", g)
		assert.True(t, legalTransition(edge.reviewing, edge.rejected), "gate %s reject edge must be legal", g)
	}
}
