package gcode

import (
	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/coord"
)

// VM tracks the machine state implied by a stream of blocks: the commanded
// position, the coolant output used for suction and the last servo angles.
type VM struct {
	pos coord.Point
	wco coord.Point

	modal [256]float64

	feed   float64
	servos map[int]float64
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{servos: make(map[int]float64)}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm *VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm *VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

// Coolant reports whether a coolant output (M7 or M8) is on.
func (vm *VM) Coolant() bool { return vm.modal[ModalGroupCoolant] != 9 }

// Feed is the last programmed feed rate.
func (vm *VM) Feed() float64 { return vm.feed }

// Servo returns the last angle sent to channel ch.
func (vm *VM) Servo(ch int) (float64, bool) {
	a, ok := vm.servos[ch]
	return a, ok
}

func (vm *VM) WPos() coord.Point     { return vm.pos.Sub(vm.wco) }
func (vm *VM) MPos() coord.Point     { return vm.pos }
func (vm *VM) WCO() coord.Point      { return vm.wco }
func (vm *VM) SetMPos(p coord.Point) { vm.pos = p }
func (vm *VM) SetWCO(p coord.Point)  { vm.wco = p }

func isSupported(g Word) bool {
	if g.IsAxis() {
		return true
	}

	switch g.W {
	case 'G':
		switch g.Arg {
		case 0, 1, 4, 53, 90, 91, 20, 21, 94:
			return true
		}
	case 'M':
		switch g.Arg {
		case 3, 5, 8, 9, 280:
			return true
		}
	case 'F', 'P', 'S':
		return true
	}

	return false
}

func applyBlock(p coord.Point, b Block, mul float64) coord.Point {
	for _, g := range b {
		switch g.W {
		case 'X':
			p.X = g.Arg * mul
		case 'Y':
			p.Y = g.Arg * mul
		case 'Z':
			p.Z = g.Arg * mul
		}
	}

	return p
}

func axes(b Block) Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.IsAxis() {
			res = append(res, g)
		}
	}
	return res
}

// Run applies b to the state.
func (vm *VM) Run(b Block) error {
	err := b.Validate()
	if err != nil {
		return err
	}
	for _, g := range b {
		if !isSupported(g) {
			return errors.New("unsupported code: " + g.String())
		}
	}
	for _, g := range b {
		mg := g.ModalGroup()
		if mg != ModalGroupNone && mg != ModalGroupNonModal && mg != ModalGroupServo {
			vm.modal[mg] = g.Arg
		}
	}
	if ok, f := b.Arg('F'); ok {
		vm.feed = f
	}

	if b.Has(M(280)) {
		okP, ch := b.Arg('P')
		okS, angle := b.Arg('S')
		if !okP || !okS {
			return errors.New("M280 needs P and S")
		}
		vm.servos[int(ch)] = angle
		return nil
	}
	if b.Has(G(4)) {
		return nil
	}

	args := axes(b)
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if vm.Inches() {
		mul = 25.4
	}
	// apply motion
	switch {
	case vm.RelativeMotion():
		vm.pos = vm.pos.Add(applyBlock(coord.Point{}, args, mul))
	case b.Has(G(53)):
		vm.pos = applyBlock(vm.pos, args, 1)
	default:
		vm.pos = applyBlock(vm.WPos(), args, mul).Add(vm.wco)
	}

	return nil
}
