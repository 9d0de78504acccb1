package gcode

import (
	"strings"

	"github.com/pkg/errors"
)

// Block is one line of words.
type Block []Word

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Has reports whether b contains exactly g.
func (b Block) Has(g Word) bool {
	for _, w := range b {
		if w == g {
			return true
		}
	}
	return false
}

func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}

func (b Block) Validate() error {
	var checkWord [256]bool
	var checkModal [256]bool

	var m ModalGroup
	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && g.W != 'M' && checkWord[g.W] {
			return errors.Errorf("word %c was repeated in a block", g.W)
		}
		checkWord[g.W] = true
		m = g.ModalGroup()
		if m != ModalGroupNone && checkModal[m] {
			return errors.New("multiple words from same modal group")
		}
		checkModal[m] = true
	}

	return nil
}

// String formats b with single spaces between words, e.g. "G0 X10 F3000".
func (b Block) String() string {
	var sb strings.Builder
	for i, g := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.String())
	}
	return sb.String()
}
