package webui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"
)

func TestRegisterServesPlayground(t *testing.T) {
	t.Parallel()

	e := echo.New()
	Register(e)

	tests := []struct {
		path, want string
	}{
		{"/", "/ui/app.js"},
		{"/", "<title>chatlm</title>"},
		{"/ui/app.js", "/v1/model"},
		{"/ui/style.css", "font-family"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tt.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Fatalf("%s: body missing %q", tt.path, tt.want)
		}
	}
}
