package timing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sweeney/gate-timer/internal/device"
	"github.com/sweeney/gate-timer/internal/logic"
)

// Control errors.
var (
	ErrNoDevice            = errors.New("no device configured")
	ErrDeviceConfigUnknown = errors.New("device configuration has not been read")
	ErrInvalidRate         = errors.New("announcer rate must be positive")
)

// AnnouncerSettings changes announcer behaviour. Nil fields are left alone.
type AnnouncerSettings struct {
	Enabled *bool
	Mode    *logic.AnnouncerMode
	Rate    *float64
	Pilot   *string
}

// StartRace begins the start sequence. It returns race.ErrRaceActive if a
// race is already in progress.
func (c *Coordinator) StartRace(ctx context.Context) error {
	return c.exec(ctx, c.seq.Start)
}

// StopRace stops the race and clears the laps.
func (c *Coordinator) StopRace(ctx context.Context) error {
	return c.exec(ctx, func() error {
		c.seq.Stop()
		return nil
	})
}

// ClearLaps empties the lap ledger without touching the race state.
func (c *Coordinator) ClearLaps(ctx context.Context) error {
	return c.exec(ctx, func() error {
		c.ledger.Reset()
		c.log.Info("laps cleared")
		return nil
	})
}

// SetThresholds changes the crossing thresholds. When both are given, enter
// is applied first, so exit wins a conflict. The resulting thresholds are
// returned.
func (c *Coordinator) SetThresholds(ctx context.Context, enter, exit *int) (logic.Thresholds, error) {
	var th logic.Thresholds
	err := c.exec(ctx, func() error {
		if enter != nil {
			c.detector.SetEnterLevel(*enter)
		}
		if exit != nil {
			c.detector.SetExitLevel(*exit)
		}
		th = c.detector.Thresholds()
		c.log.Info("thresholds", "enter", th.Enter, "exit", th.Exit)
		return nil
	})
	return th, err
}

// ConfigureAnnouncer applies announcer settings.
func (c *Coordinator) ConfigureAnnouncer(ctx context.Context, s AnnouncerSettings) error {
	if s.Rate != nil && *s.Rate <= 0 {
		return ErrInvalidRate
	}
	return c.exec(ctx, func() error {
		if s.Mode != nil {
			c.mode = *s.Mode
		}
		if s.Rate != nil {
			c.announcer.SetRate(*s.Rate)
		}
		if s.Pilot != nil {
			c.pilot = *s.Pilot
		}
		if s.Enabled != nil {
			if *s.Enabled {
				c.announcer.Enable(c.ctx)
			} else {
				c.announcer.Disable()
			}
		}
		c.log.Info("announcer", "enabled", c.announcer.Enabled(), "mode", c.mode, "rate", c.announcer.Rate(), "pilot", c.pilot)
		return nil
	})
}

// TestAudio queues the audio test phrases. Nothing is queued while the
// announcer is disabled.
func (c *Coordinator) TestAudio(ctx context.Context) error {
	return c.exec(ctx, func() error {
		for _, p := range logic.AudioTestPhrases(c.pilot) {
			c.announcer.Enqueue(p)
		}
		return nil
	})
}

// SetDetection turns crossing detection on or off and asks the device to
// start or stop streaming signal samples accordingly.
func (c *Coordinator) SetDetection(ctx context.Context, active bool) error {
	return c.exec(ctx, func() error {
		if c.detector.Active() == active {
			return nil
		}
		c.detector.SetActive(active)
		c.log.Info("detection", "active", active)
		if active {
			c.device("start signal", func(ctx context.Context) error { return c.cfg.Device.StartSignal(ctx) })
		} else {
			c.device("stop signal", func(ctx context.Context) error { return c.cfg.Device.StopSignal(ctx) })
		}
		return nil
	})
}

// SyncDeviceConfig reads the device configuration and adopts its
// thresholds, announcer mode, rate and pilot name.
func (c *Coordinator) SyncDeviceConfig(ctx context.Context) error {
	if c.cfg.Device == nil {
		return ErrNoDevice
	}
	dc, err := c.cfg.Device.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("read device config: %w", err)
	}
	return c.exec(ctx, func() error {
		c.applyDeviceConfig(dc)
		return nil
	})
}

func (c *Coordinator) applyDeviceConfig(dc device.Config) {
	// enter first: any consistent pair then lands exactly
	c.detector.SetEnterLevel(dc.EnterLevel)
	c.detector.SetExitLevel(dc.ExitLevel)

	if mode, err := logic.AnnouncerModeFromIndex(dc.AnnouncerType); err != nil {
		c.log.Warn("ignoring device announcer type", "error", err)
	} else {
		c.mode = mode
	}
	if dc.RateTenths > 0 {
		c.announcer.SetRate(dc.RateMultiplier())
	}
	c.pilot = dc.PilotName
	c.deviceCfg = &dc

	th := c.detector.Thresholds()
	c.log.Info("device config applied", "enter", th.Enter, "exit", th.Exit, "mode", c.mode, "rate", c.announcer.Rate(), "pilot", c.pilot, "frequency", dc.Frequency)
}

// SaveDeviceConfig writes the current thresholds and announcer settings back
// to the device. The rest of the device configuration is preserved, so it
// must have been read first.
func (c *Coordinator) SaveDeviceConfig(ctx context.Context) error {
	if c.cfg.Device == nil {
		return ErrNoDevice
	}
	var dc device.Config
	err := c.exec(ctx, func() error {
		if c.deviceCfg == nil {
			return ErrDeviceConfigUnknown
		}
		dc = *c.deviceCfg
		th := c.detector.Thresholds()
		dc.EnterLevel = th.Enter
		dc.ExitLevel = th.Exit
		dc.AnnouncerType = int(c.mode)
		dc.RateTenths = int(math.Round(c.announcer.Rate() * 10))
		dc.PilotName = c.pilot
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.cfg.Device.SaveConfig(ctx, dc); err != nil {
		return fmt.Errorf("save device config: %w", err)
	}

	c.log.Info("device config saved", "enter", dc.EnterLevel, "exit", dc.ExitLevel)
	if err := c.exec(ctx, func() error {
		c.deviceCfg = &dc
		return nil
	}); err != nil {
		c.log.Warn("saved device config not recorded", "error", err)
	}
	return nil
}
