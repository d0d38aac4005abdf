package cmd

import (
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/handlers"
)

func TestServerDrainsVerificationOnShutdown(t *testing.T) {
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers.RequestLogger(logger))
	router.POST("/api/v1/faces/verify", func(c *gin.Context) {
		close(requestStarted)
		<-releaseRequest
		c.JSON(http.StatusOK, gin.H{"verified": true})
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/api/v1/faces/verify", "application/json", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestServeReturnsListenerError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	server := &http.Server{Handler: http.NewServeMux()}
	err = serveHTTPServerWithOptions(server, time.Second, zap.NewNop(), listener, make(chan os.Signal))
	if err == nil {
		t.Fatal("expected error from closed listener")
	}
	if errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("closed-server error should not be reported as failure source: %v", err)
	}
}

func TestNewRouterRequiresAuthOnFaceRoutes(t *testing.T) {
	h := handlers.NewHandler(handlers.Options{}, zap.NewNop())
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	router := newRouter(h, deny, 0, zap.NewNop())

	routes := map[string]bool{}
	for _, info := range router.Routes() {
		routes[info.Method+" "+info.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"POST /api/v1/faces",
		"POST /api/v1/faces/verify",
		"POST /api/v1/auth/verify-facial-for-login",
		"PUT /api/v1/profile/facial-recognition",
	} {
		if !routes[want] {
			t.Fatalf("route %q not registered", want)
		}
	}
	if router.MaxMultipartMemory != handlers.MaxUploadSize {
		t.Fatalf("expected default multipart memory %d, got %d", handlers.MaxUploadSize, router.MaxMultipartMemory)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
