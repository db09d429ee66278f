package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/zeroxmods/certmint/pkg/errs"
)

func TestFromError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{errs.Ef(errs.InvalidInput, "op", "bad"), http.StatusBadRequest},
		{errs.Ef(errs.SignatureInvalid, "op", "bad"), http.StatusUnauthorized},
		{errs.Ef(errs.NotFound, "op", "missing"), http.StatusNotFound},
		{errs.Ef(errs.OutOfStock, "op", "gone"), http.StatusConflict},
		{errs.Ef(errs.MintInProgress, "op", "busy"), http.StatusConflict},
		{errs.Ef(errs.ServiceUnavailable, "op", "down"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		FromError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}
