package leaderboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPPrewarmer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	p := NewHTTPPrewarmer(time.Second)
	ctx := context.Background()
	assert.NoError(t, p.Warm(ctx, srv.URL+"/ok.jpg"))
	assert.Error(t, p.Warm(ctx, srv.URL+"/missing.jpg"))
	assert.Error(t, p.Warm(ctx, ""))
}
