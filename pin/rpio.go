package pin

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycle is the number of clock ticks per PWM period.
const pwmCycle = 20000

// RPIO drives Raspberry Pi GPIO lines through /dev/gpiomem (BCM numbering).
type RPIO struct {
	mx     sync.Mutex
	pwm    bool
	closed bool
}

// OpenRPIO maps the GPIO registers.
func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open gpio")
	}
	return &RPIO{}, nil
}

type rpioOutput rpio.Pin

func (p rpioOutput) Set(high bool) error {
	if high {
		rpio.Pin(p).High()
	} else {
		rpio.Pin(p).Low()
	}
	return nil
}

type rpioInput rpio.Pin

func (p rpioInput) Read() (bool, error) {
	return rpio.Pin(p).Read() == rpio.High, nil
}

type rpioPWM rpio.Pin

func (p rpioPWM) SetDuty(fraction float64) error {
	fraction = math.Max(0, math.Min(1, fraction))
	rpio.Pin(p).DutyCycle(uint32(fraction*pwmCycle), pwmCycle)
	return nil
}

func (c *RPIO) Output(n int) (Output, error) {
	p := rpio.Pin(n)
	p.Output()
	p.Low()
	return rpioOutput(p), nil
}

func (c *RPIO) Input(n int, pull Pull) (Input, error) {
	p := rpio.Pin(n)
	p.Input()
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	return rpioInput(p), nil
}

// PWM configures a hardware PWM pin (BCM 12, 13, 18 or 19).
func (c *RPIO) PWM(n int, freqHz int) (PWM, error) {
	switch n {
	case 12, 13, 18, 19:
	default:
		return nil, errors.Errorf("pin %d has no hardware pwm", n)
	}
	if freqHz <= 0 {
		return nil, errors.Errorf("invalid pwm frequency %d", freqHz)
	}
	c.mx.Lock()
	if !c.pwm {
		rpio.StartPwm()
		c.pwm = true
	}
	c.mx.Unlock()

	p := rpio.Pin(n)
	p.Pwm()
	p.Freq(freqHz * pwmCycle)
	p.DutyCycle(0, pwmCycle)
	return rpioPWM(p), nil
}

func (c *RPIO) Release(n int) error {
	p := rpio.Pin(n)
	p.Low()
	p.Input()
	return nil
}

func (c *RPIO) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.pwm {
		rpio.StopPwm()
	}
	return errors.Wrap(rpio.Close(), "close gpio")
}
