package errors_test

import (
	"encoding/json"
	"net/http"
	"testing"

	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2Error_JSONOmitsStatus(t *testing.T) {
	b, err := json.Marshal(serrors.NewInvalidGrant("bad code"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"error":"invalid_grant","error_description":"bad code"}`, string(b))
}

func TestOAuth2Error_Statuses(t *testing.T) {
	tests := []struct {
		err    *serrors.OAuth2Error
		code   string
		status int
	}{
		{serrors.NewInvalidRequest("x"), serrors.InvalidRequest, http.StatusBadRequest},
		{serrors.NewInvalidClient("x"), serrors.InvalidClient, http.StatusUnauthorized},
		{serrors.NewInvalidGrant("x"), serrors.InvalidGrant, http.StatusBadRequest},
		{serrors.NewUnsupportedGrantType(), serrors.UnsupportedGrantType, http.StatusBadRequest},
		{serrors.NewUnsupportedResponseType(), serrors.UnsupportedResponseType, http.StatusBadRequest},
		{serrors.NewUnsupportedTokenType(), serrors.UnsupportedTokenType, http.StatusBadRequest},
		{serrors.NewMethodNotAllowed(), serrors.MethodNotAllowed, http.StatusMethodNotAllowed},
		{serrors.NewServerError("x"), serrors.ServerError, http.StatusInternalServerError},
		{serrors.NewPKCERequired(), serrors.InvalidRequest, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
		})
	}
}

func TestOAuth2Error_WithStatusCopies(t *testing.T) {
	orig := serrors.NewInvalidClient("unknown client")
	downgraded := orig.WithStatus(http.StatusBadRequest)

	assert.Equal(t, http.StatusUnauthorized, orig.Status)
	assert.Equal(t, http.StatusBadRequest, downgraded.Status)
	assert.Equal(t, orig.Code, downgraded.Code)
	assert.Equal(t, "invalid_client: unknown client", downgraded.Error())
}
