// Package battery reports the device battery level. Geolocation uses it to
// pick a cheaper accuracy when the battery is low.
package battery

import (
	"context"
	"errors"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "plutotime/internal/log"
)

// Status is the current battery reading.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, 0 if unknown.
	VoltageMv int `json:"voltage_mv"`
	// Powered is true when the reading comes from mains power rather than a
	// battery controller.
	Powered bool `json:"powered"`
}

// Level returns Percent as a 0..1 fraction.
func (s Status) Level() float64 {
	return float64(s.Percent) / 100
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// staticReader always reports the same status.
type staticReader struct {
	status Status
}

// NewStaticReader returns a Reader with a fixed status, used for machines
// without a battery controller and in tests.
func NewStaticReader(s Status) Reader {
	return staticReader{status: s}
}

func (r staticReader) Read(context.Context) (Status, error) {
	return r.status, nil
}

// Mains is the status reported when no battery controller is present.
var Mains = Status{Percent: 100, Powered: true}

// i2cReader talks to a PiSugar-style controller over I2C:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader stores the bus configuration; the bus is opened on each Read.
// busName "" selects the default bus.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(ctx context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(0x22)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(0x23)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(0x2A)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// DefaultReader tries the I2C controller at addr and falls back to reporting
// mains power when it cannot be read.
func DefaultReader(ctx context.Context, addr uint16) Reader {
	if runtime.GOOS != "linux" {
		return NewStaticReader(Mains)
	}
	r := NewI2CReader("", addr)
	if _, err := r.Read(ctx); err != nil {
		appLog.Debug("battery controller not available, assuming mains power", "err", err)
		return NewStaticReader(Mains)
	}
	return r
}
