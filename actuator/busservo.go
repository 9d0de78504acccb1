package actuator

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/pickplace/fault"
)

// busResolution is the number of raw position counts per turn of an STS servo.
const busResolution = 4096

type positioner interface {
	SetPosition(ctx context.Context, position int) error
	Disable(ctx context.Context) error
}

// BusServo is a rotation actuator on a Feetech STS serial bus servo. Unlike a
// hobby PWM servo it covers the full turn, so 270° tasks need no remapping.
type BusServo struct {
	servo  positioner
	closer func() error
	settle time.Duration
	clk    clock.Clock
}

// BusServoConfig selects the serial bus and servo id.
type BusServoConfig struct {
	Port     string
	BaudRate int
	ID       int
	Settle   time.Duration
}

// OpenBusServo opens the bus and enables torque on the servo.
func OpenBusServo(ctx context.Context, cfg BusServoConfig) (*BusServo, error) {
	if cfg.Port == "" || cfg.ID <= 0 {
		return nil, fault.New(fault.Configuration, "bus servo: port and id are required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, "open servo bus")
	}
	servo := feetech.NewServo(bus, cfg.ID, &feetech.ModelSTS3215)
	if err := servo.Enable(ctx); err != nil {
		bus.Close()
		return nil, errors.Wrapf(err, "enable servo %d", cfg.ID)
	}
	return newBusServo(servo, bus.Close, cfg.Settle, clock.New()), nil
}

func newBusServo(p positioner, closer func() error, settle time.Duration, clk clock.Clock) *BusServo {
	return &BusServo{servo: p, closer: closer, settle: settle, clk: clk}
}

// Raw converts an angle to servo counts.
func (s *BusServo) Raw(deg float64) int {
	return int(math.Round(NormalizeAngle(deg)/360*busResolution)) % busResolution
}

func (s *BusServo) Rotate(ctx context.Context, deg float64) error {
	if err := s.servo.SetPosition(ctx, s.Raw(deg)); err != nil {
		return fault.Wrap(fault.TransientIO, err, "bus servo")
	}
	return Wait(ctx, s.clk, s.settle)
}

func (s *BusServo) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := errors.Wrap(s.servo.Disable(ctx), "disable bus servo")
	if s.closer != nil {
		err = multierr.Append(err, errors.Wrap(s.closer(), "close servo bus"))
	}
	return err
}
