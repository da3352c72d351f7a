package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/handler"
)

func TestEmptyResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp handler.Response
		want int
	}{
		{"release acknowledged", handler.Empty(), http.StatusNoContent},
		{"explicit no content", handler.EmptyWithStatus(http.StatusNoContent), http.StatusNoContent},
		{"webhook accepted", handler.EmptyWithStatus(http.StatusAccepted), http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			require.NoError(t, tt.resp.Render(w, httptest.NewRequest(http.MethodPost, "/v1/usage/release", nil)))

			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, w.Body.String())
			assert.Empty(t, w.Header().Get("Content-Type"))
		})
	}
}
