package firmware

import (
	"github.com/ardnew/carrierfw/pkg"
	"github.com/ardnew/carrierfw/proto"
)

// handleAlert services an alert raised by the sense chips. The ports that
// alerted are switched off for good; the alert source is cleared only after
// that, so a port cannot come back on in between. The alert interrupt is
// re-armed last.
//
// Bus failures on this path latch the error bit. When the alerting ports
// cannot be read every port is switched off.
func (f *Firmware) handleAlert() {
	f.status.latch(proto.StatusAlert)

	mask, err := f.backend.PollAlert()
	if err != nil {
		pkg.LogError(pkg.ComponentAlert, "alert poll failed, disabling all ports",
			"backend", f.backend.Name(), "error", err)
		f.status.latch(proto.StatusError)
		mask = proto.PortAll
	}

	if mask != 0 {
		pkg.LogWarn(pkg.ComponentAlert, "port alert, switching off", "ports", mask.String())
		if err := f.backend.SetVoltage(mask, 0); err != nil {
			pkg.LogError(pkg.ComponentAlert, "port switch-off failed",
				"ports", mask.String(), "error", err)
			f.status.latch(proto.StatusError)
		}

		if !f.backend.ReleasesAlertOnPoll() {
			if err := f.backend.ClearAlert(mask); err != nil {
				pkg.LogError(pkg.ComponentAlert, "alert clear failed",
					"ports", mask.String(), "error", err)
				f.status.latch(proto.StatusError)
			}
		}
	}

	f.alertPending.Store(false)
	f.alertIRQEnabled.Store(true)
}
