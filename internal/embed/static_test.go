package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	first, err := e.Embed(context.Background(), "quarterly budget review")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "quarterly budget review")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "onboarding checklist")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "database migration")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "holiday schedule")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_ClosedRejectsEmbeds(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
