package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type createCallPayload struct {
	ClientID    string `json:"client_id" validate:"required"`
	IsEmergency bool   `json:"is_emergency"`
	ReaderID    string `json:"reader_id" validate:"omitempty,min=1"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(createCallPayload{ClientID: "client-1", IsEmergency: true})
	require.NoError(t, err)
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(createCallPayload{})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 1)
	require.Equal(t, "client_id", failures[0].Field)
	require.Equal(t, "required", failures[0].Tag)
	require.Contains(t, err.Error(), "client_id failed on required")
}
