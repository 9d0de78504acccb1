package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/argument pair such as G0 or X12.5.
type Word struct {
	W   byte
	Arg float64
}

// G returns a G word.
func G(n float64) Word { return Word{W: 'G', Arg: n} }

// M returns an M word.
func M(n float64) Word { return Word{W: 'M', Arg: n} }

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, 3)
}
