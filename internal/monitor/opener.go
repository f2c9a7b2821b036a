package monitor

import (
	"context"

	fwbuild "github.com/allbin/fwbuild"
)

// DefaultBaudRate is the usual firmware console rate
const DefaultBaudRate = 115200

// Opener opens monitor sessions at a fixed baud rate. It implements
// fwbuild.MonitorOpener.
type Opener struct {
	BaudRate int
}

// NewOpener returns an opener for the given baud rate; zero means
// DefaultBaudRate.
func NewOpener(baud int) *Opener {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &Opener{BaudRate: baud}
}

func (o *Opener) OpenMonitor(ctx context.Context, port fwbuild.PortKey) (fwbuild.MonitorSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(string(port), o.BaudRate)
}
