package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeStateFindRoute(t *testing.T) {
	s := NodeState{
		NodeType: Point,
		Routes: []Route{
			{ID: 10, Position: First},
			{ID: 20, Position: Middle},
		},
		CurrentRoute: NoRoute,
	}

	assert.Equal(t, 0, s.FindRoute(10))
	assert.Equal(t, 1, s.FindRoute(20))
	assert.Equal(t, NoRoute, s.FindRoute(999))
	assert.Nil(t, s.Current())

	s.CurrentRoute = 1
	assert.Equal(t, uint32(20), s.Current().ID)
}

func TestRequestedPositionResolve(t *testing.T) {
	assert.Equal(t, Straight, ReqStraight.Resolve())
	assert.Equal(t, Diverging, ReqDiverging.Resolve())
}
