package api

import (
	"github.com/danielgtaylor/huma/v2"
)

// EnvelopeVersion is the response envelope format version.
const EnvelopeVersion = 1

// APIEnvelope wraps every successful response and simple errors.
type APIEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIErrorEnvelope wraps coded errors.
type APIErrorEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer is a huma.Transformer that wraps response bodies in
// the versioned envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if apiErr, ok := v.(*APIError); ok {
		return APIErrorEnvelope{
			Version: EnvelopeVersion,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}, nil
	}

	if err, ok := v.(error); ok {
		return APIEnvelope{
			Version: EnvelopeVersion,
			Error:   err.Error(),
		}, nil
	}

	return APIEnvelope{
		Version: EnvelopeVersion,
		Success: len(status) > 0 && status[0] == '2',
		Data:    v,
	}, nil
}
