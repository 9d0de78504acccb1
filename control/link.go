package control

import (
	"os"

	"go.uber.org/zap"

	"github.com/mastercactapus/pickplace/fault"
	"github.com/mastercactapus/pickplace/protocol"
)

// A Link is the loop's connection to whoever supplies the plan.
type Link interface {
	Hello(who string) error
	SendStatus(s protocol.Status) error
	ReadPlan() (protocol.Plan, error)
	Close() error
}

var _ Link = (*protocol.Conn)(nil)

// FileLink serves a plan read from a file and logs statuses, for runs with
// no supervisory host.
type FileLink struct {
	Path string
	Log  *zap.SugaredLogger

	// Statuses records everything sent, in order.
	Statuses []protocol.Status
}

func (f *FileLink) log() *zap.SugaredLogger {
	if f.Log == nil {
		return zap.NewNop().Sugar()
	}
	return f.Log
}

func (f *FileLink) Hello(who string) error {
	f.log().Infow("offline run", "who", who, "plan", f.Path)
	return nil
}

func (f *FileLink) SendStatus(s protocol.Status) error {
	f.Statuses = append(f.Statuses, s)
	f.log().Infow("status", "status", s.String())
	return nil
}

func (f *FileLink) ReadPlan() (protocol.Plan, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return protocol.Plan{}, fault.Wrap(fault.Configuration, err, "read plan")
	}
	return protocol.ParsePlan(data)
}

func (f *FileLink) Close() error { return nil }
