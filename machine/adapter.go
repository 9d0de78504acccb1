package machine

import (
	"context"
	"time"
)

// A Controller is the minimal machine interface the task executor drives.
//
// Positions are absolute machine coordinates in millimeters. Every call blocks
// until the machine has acknowledged and finished the operation.
type Controller interface {
	MoveLinear(ctx context.Context, m Move) error
	SetVacuum(ctx context.Context, on bool) error
	RotateTool(ctx context.Context, deg float64) error
	Dwell(ctx context.Context, d time.Duration) error
}

// Rig is a controller that can also reference its axes and release its
// hardware; the control loop needs both around a run.
type Rig interface {
	Controller
	HomeAll(ctx context.Context) error
	Shutdown() error
}
