package lifecycle

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type countingDaemon struct {
	shutdowns atomic.Int32
}

func (daemon *countingDaemon) Shutdown() {
	daemon.shutdowns.Add(1)
}

func testCtx() context.Context {
	return logctx.New(context.Background(), global.NSTest, global.VerbosityNone, nil)
}

// Listens on a unixgram socket standing in for systemd
func fakeNotifySocket(t *testing.T) *net.UnixConn {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sockPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("failed to listen on notify socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", sockPath)
	return conn
}

func readNotification(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no notification received: %v", err)
	}
	return string(buf[:n])
}

func TestNotify(t *testing.T) {
	conn := fakeNotifySocket(t)
	ctx := testCtx()

	tests := []struct {
		name   string
		send   func() error
		prefix string
	}{
		{"ready", func() error { return NotifyReady(ctx) }, "READY=1"},
		{"status", func() error { return NotifyStatus(ctx, "2 instances running") }, "STATUS=2 instances running"},
		{"stopping", func() error { return NotifyStopping(ctx) }, "STOPPING=1\nMONOTONIC_USEC="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("notify failed: %v", err)
			}
			got := readNotification(t, conn)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Fatalf("notification=%q want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestNotify_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := NotifyReady(testCtx()); err != nil {
		t.Fatalf("expected no-op without NOTIFY_SOCKET, got %v", err)
	}
}

func TestNotify_DialFailure(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "absent.sock"))
	if err := NotifyReady(testCtx()); err == nil {
		t.Fatalf("expected dial error for missing socket")
	}
}

func TestHandleSignals(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	tests := []struct {
		name          string
		signals       []os.Signal
		wantShutdowns int32
	}{
		{"interrupt shuts down", []os.Signal{syscall.SIGINT}, 1},
		{"terminate shuts down", []os.Signal{syscall.SIGTERM}, 1},
		{"hangup is ignored", []os.Signal{syscall.SIGHUP, syscall.SIGQUIT}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigChan := make(chan os.Signal, len(tt.signals))
			for _, sig := range tt.signals {
				sigChan <- sig
			}

			daemon := &countingDaemon{}
			done := make(chan struct{})
			go func() {
				handleSignals(testCtx(), sigChan, daemon)
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatalf("signal handler did not return")
			}
			if got := daemon.shutdowns.Load(); got != tt.wantShutdowns {
				t.Fatalf("shutdowns=%d want=%d", got, tt.wantShutdowns)
			}
		})
	}
}

func TestHandleSignals_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	daemon := &countingDaemon{}
	handleSignals(ctx, make(chan os.Signal), daemon)
	if daemon.shutdowns.Load() != 0 {
		t.Fatalf("cancelled handler must not shut down the daemon")
	}
}
