package model

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomyDetection(t *testing.T) {
	verr := NewValidationError("name", "must not be empty")
	nferr := NewNotFoundError("intervention", "abc")
	cerr := NewConflictError("discovered_item", "abc", "already resolved")
	cverr := &ConsentViolationError{Ceiling: ConsentPublicCommons}
	uerr := &UpstreamError{Source: "search_tool", Err: eris.New("timeout")}

	assert.True(t, IsValidation(verr))
	assert.True(t, IsNotFound(nferr))
	assert.True(t, IsConflict(cerr))
	assert.True(t, IsConsentViolation(cverr))
	assert.True(t, IsUpstream(uerr))

	assert.False(t, IsConflict(nferr))
	assert.False(t, IsNotFound(cerr))
}

func TestErrorTaxonomySurvivesWrapping(t *testing.T) {
	err := eris.Wrap(NewConflictError("discovered_item", "x", "not pending"), "discovery: approve")
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestConsentViolationNeverLeaksDetail(t *testing.T) {
	err := &ConsentViolationError{Ceiling: ConsentPublicCommons}
	assert.Equal(t, "not visible at this ceiling", err.Error())
}
