package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"roverlink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestConcurrentSessions_RejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewCollector(prometheus.NewRegistry())
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	router := gin.New()
	router.GET("/slow",
		ConcurrentSessions(2, "media", metrics, zap.NewNop().Sugar()),
		func(c *gin.Context) {
			entered <- struct{}{}
			<-release
			c.Status(http.StatusOK)
		})
	srv := httptest.NewServer(router)
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/slow")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}

	// Wait until both slots are genuinely occupied.
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not start")
		}
	}

	resp, err := http.Get(srv.URL + "/slow")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	close(release)
	wg.Wait()
}

func TestConcurrentSessions_DisabledWhenMaxNonPositive(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/open",
		ConcurrentSessions(0, "media", nil, zap.NewNop().Sugar()),
		func(c *gin.Context) { c.Status(http.StatusOK) })
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/open")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRecoveryMiddleware_TurnsPanicInto500(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/boom", func(c *gin.Context) { panic("handler bug") })
	router.GET("/fine", func(c *gin.Context) { c.Status(http.StatusOK) })
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/boom")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()

	// The gateway keeps serving after a panic.
	resp, err = http.Get(srv.URL + "/fine")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
