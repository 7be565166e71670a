package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/config"
	"github.com/example/hijab-blur/internal/task"
	"github.com/example/hijab-blur/internal/usecase"
)

// blockingService holds GetResult until released so shutdown can be observed mid-request.
type blockingService struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingService) Submit(context.Context, usecase.Upload) (string, error) {
	return "", nil
}

func (s *blockingService) GetResult(ctx context.Context, taskID string) (*task.Task, error) {
	select {
	case <-s.started:
	default:
		close(s.started)
	}
	<-s.release
	return &task.Task{ID: taskID, Status: task.StatusProcessing}, nil
}

func (s *blockingService) ReadOutput(context.Context, *task.Task) ([]byte, error) {
	return nil, nil
}

func (s *blockingService) GetMetricsSummary(context.Context) (*usecase.MetricsSummary, error) {
	return nil, usecase.ErrAuditDisabled
}

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()

	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-svc.release:
		default:
			close(svc.release)
		}
	}()

	cfg := &config.Config{Server: config.ServerConfig{MaxUploadBytes: 1 << 20}}

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: newRouter(svc, cfg, logger)}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Get("http://" + addr + "/get_result/task-1")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(svc.release)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusAccepted {
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
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
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
