package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"syscall"
)

type DaemonLike interface {
	Shutdown()
}

// Handles all incoming signals from external sources.
// Initiates daemon shutdown and returns once it completed.
func SignalHandler(ctx context.Context, daemonManager DaemonLike) {
	// Channel for handling interrupt signals
	sigChan := make(chan os.Signal, 10)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	handleSignals(ctx, sigChan, daemonManager)
}

func handleSignals(ctx context.Context, sigChan <-chan os.Signal, daemonManager DaemonLike) {
	for {
		var sig os.Signal
		select {
		case <-ctx.Done():
			return
		case sig = <-sigChan:
		}
		logctx.LogEvent(ctx, global.VerbosityStandard, global.InfoLog, "Received signal: %v\n", sig)

		// Configuration is only read at startup
		if sig == syscall.SIGHUP {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
				"Reload is not supported, restart the service to apply configuration changes\n")
			err := NotifyStatus(ctx, "Reload ignored, restart required to apply configuration")
			if err != nil {
				logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "Systemd notify status failed: %v\n", err)
			}
			continue
		}

		err := NotifyStopping(ctx)
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "Systemd notify stopping failed: %v\n", err)
		}

		// Initiate daemon shutdown
		daemonManager.Shutdown()

		logger := logctx.GetLogger(ctx)
		if logger != nil {
			logger.Wake()
		}
		return
	}
}
