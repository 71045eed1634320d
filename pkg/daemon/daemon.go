// Package daemon reports lifecycle transitions to the service manager
// when the process runs under one. Outside systemd both calls are
// no-ops.
package daemon

import (
	sd "github.com/coreos/go-systemd/v22/daemon"

	logx "statusloop/pkg/logx"
)

func NotifyReady(log logx.Logger) {
	notify(log, sd.SdNotifyReady)
}

func NotifyStopping(log logx.Logger) {
	notify(log, sd.SdNotifyStopping)
}

func notify(log logx.Logger, state string) {
	sent, err := sd.SdNotify(false, state)
	if err != nil && !log.IsZero() {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent && !log.IsZero() {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
