package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/apperr"
)

type sampleRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
	Capacity int    `json:"capacity" validate:"min=1,max=100"`
	Status   string `json:"status" validate:"omitempty,oneof=PENDING BOOKED"`
}

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	err := v.Validate(&sampleRequest{DoctorID: "6f1c2a4e-2b0c-4b51-9b7d-3d6f0b1f6a10", Capacity: 4})
	assert.NoError(t, err)
}

func TestValidator_ReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()
	err := v.Validate(&sampleRequest{Capacity: 0, Status: "DONE"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "doctor_id is required")
	assert.Contains(t, err.Error(), "capacity must be at least 1")
	assert.Contains(t, err.Error(), "status must be one of [PENDING BOOKED]")
}
