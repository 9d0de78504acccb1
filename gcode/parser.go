package gcode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Parser reads blocks from a line-oriented stream.
type Parser struct{ br *bufio.Reader }

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

var (
	rx      = regexp.MustCompile(`^([A-Z][0-9.\-]+)+$`)
	rxSplit = regexp.MustCompile(`[A-Z][0-9.\-]+`)
	rxParen = regexp.MustCompile(`\([^)]*\)`)
)

// ParseLine parses a single line. Blank and comment-only lines yield a nil
// block and no error.
func ParseLine(s string) (Block, error) {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxParen.ReplaceAllString(s, "")
	s = strings.Replace(s, " ", "", -1)
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	if s == "" {
		return nil, nil
	}

	if !rx.MatchString(s) {
		return nil, errors.New("invalid or unhandled line: " + s)
	}

	codes := rxSplit.FindAllString(s, -1)
	res := make(Block, len(codes))

	for i, c := range codes {
		_, err := fmt.Sscanf(c, "%c%f", &res[i].W, &res[i].Arg)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q", c)
		}
	}

	return res, nil
}

// Read returns the next non-empty block, or io.EOF.
func (p *Parser) Read() (Block, error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return nil, err
		}

		b, err := ParseLine(s)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		return b, nil
	}
}
