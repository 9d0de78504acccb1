package grbl

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mastercactapus/pickplace/coord"
)

// State is the last status report.
type State struct {
	Status string
	MPos   coord.Point
	WCO    coord.Point

	// Pins lists the active input letters from the Pn field.
	Pins string
}

// Alarm reports whether the controller is locked in an alarm state.
func (s State) Alarm() bool { return strings.HasPrefix(s.Status, "Alarm") }

var alarmText = map[string]string{
	"1":  "hard limit",
	"2":  "soft limit",
	"3":  "reset while in motion",
	"4":  "probe fail",
	"5":  "probe fail",
	"6":  "homing fail: reset during cycle",
	"7":  "homing fail: door opened",
	"8":  "homing fail: pull off failed",
	"9":  "homing fail: switch not found",
	"10": "homing fail: second switch not found",
}

// describeAlarm turns "ALARM:1" into "alarm 1 (hard limit)".
func describeAlarm(line string) string {
	code := strings.TrimSpace(strings.TrimPrefix(line, "ALARM:"))
	if text, ok := alarmText[code]; ok {
		return "alarm " + code + " (" + text + ")"
	}
	return "alarm " + code
}

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// parseStatus applies a `<...>` report to the previous state. Fields not
// present keep their last value, except Pn which grbl omits when no input
// is active.
func parseStatus(stat State, data string) (*State, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	stat.Status = parts[0]
	stat.Pins = ""
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			stat.MPos, err = parseCoords(sParts[1])
		case "WPos":
			var w coord.Point
			w, err = parseCoords(sParts[1])
			stat.MPos = w.Add(stat.WCO)
		case "WCO":
			stat.WCO, err = parseCoords(sParts[1])
		case "Pn":
			stat.Pins = sParts[1]
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", sParts[0])
		}
	}
	return &stat, nil
}
