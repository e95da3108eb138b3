package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")

	fe := FetchError(base)
	assert.True(t, IsFetch(fe))
	assert.False(t, IsExtraction(fe))
	assert.False(t, IsPersistence(fe))
	assert.ErrorIs(t, fe, base)
	assert.Equal(t, "fetch error: connection refused", fe.Error())

	assert.True(t, IsExtraction(ExtractionError(base)))
	assert.True(t, IsPersistence(PersistenceError(base)))
}

func TestErrorKinds_NilPassthrough(t *testing.T) {
	assert.NoError(t, FetchError(nil))
	assert.NoError(t, ExtractionError(nil))
	assert.NoError(t, PersistenceError(nil))
}

func TestErrorKinds_NoDoubleWrap(t *testing.T) {
	fe := FetchError(errors.New("timeout"))
	assert.Same(t, fe, FetchError(fe))
	assert.Equal(t, "fetch error: timeout", FetchError(fe).Error())
}

func TestErrorKinds_ThroughEris(t *testing.T) {
	err := eris.Wrap(PersistenceError(errors.New("disk full")), "reconcile local")
	assert.True(t, IsPersistence(err))
	assert.False(t, IsFetch(err))
}
