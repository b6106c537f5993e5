package errs

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTTP(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrOffline, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: dial tcp", ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: status 500", ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ToHTTP(c.err), c.err.Error())
	}
}
