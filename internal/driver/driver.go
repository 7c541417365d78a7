package driver

import (
	"sync"
	"time"

	"brld/internal/activity"
	"brld/internal/braille"
	"brld/internal/brlerr"
	"brld/internal/keytable"
	"brld/internal/reports"
	"brld/internal/scheduler"
	"brld/internal/transport"
)

// TextCells is the example protocol's one outbound message type: a full
// refresh of the display's cell row.
const TextCells braille.MessageType = 1

// Config bundles everything one driver attachment needs.
type Config struct {
	Identifier string
	Descriptor transport.Descriptor
	Session    *braille.Session
	Reports    *reports.Bus

	AckTimeout   time.Duration
	MissingLimit int
}

type state struct {
	endpoint transport.Endpoint
	reader   *Reader
	ack      *braille.AckQueue
	monitor  scheduler.MonitorHandle
	seq      byte
}

// Handle lets the owner push outbound cell writes to whichever connection
// the activity currently holds, and is a no-op while the activity is
// stopped.
type Handle struct {
	mu      sync.Mutex
	current *state
}

// Send enqueues a TextCells write to the currently connected device. It is
// silently dropped if the driver is not started.
func (h *Handle) Send(payload []byte) {
	h.mu.Lock()
	st := h.current
	h.mu.Unlock()
	if st == nil || st.ack == nil {
		return
	}
	st.ack.Enqueue(TextCells, payload)
}

// NewActivity builds an activity.Activity that connects to cfg.Identifier on
// Start, feeds the keys held in each decoded frame (every payload byte is a
// bitmask of braille keys) into cfg.Session, and
// reports device online/offline/failed transitions on cfg.Reports. The
// returned Handle lets the caller push outbound cell writes.
func NewActivity(sched *scheduler.Scheduler, name string, cfg Config) (*activity.Activity, *Handle) {
	a := activity.New(sched, name, 5*time.Second)
	handle := &Handle{}

	a.Prepare = func() (any, error) {
		return &state{}, nil
	}

	a.Start = func(data any) error {
		st := data.(*state)
		ep, err := transport.Connect(cfg.Identifier, cfg.Descriptor)
		if err != nil {
			if cfg.Reports != nil {
				cfg.Reports.Report(reports.BrailleDeviceFailed, err)
			}
			return err
		}
		st.endpoint = ep
		st.reader = NewReader()
		st.ack = braille.NewAckQueue(sched, func(payload []byte) error {
			st.seq++
			_, werr := ep.WriteData(EncodeFrame(payload, st.seq))
			return werr
		}, cfg.AckTimeout, cfg.MissingLimit, func() {
			if cfg.Reports != nil {
				cfg.Reports.Report(reports.BrailleDeviceFailed, brlerr.New(brlerr.Timeout, "driver missed too many acknowledgements"))
			}
		})

		st.monitor = sched.MonitorInput(ep, func(src scheduler.InputSource, err error) {
			if err != nil {
				if cfg.Reports != nil {
					cfg.Reports.Report(reports.BrailleDeviceFailed, err)
				}
				return
			}
			onByteReady(st, cfg)
		})

		handle.mu.Lock()
		handle.current = st
		handle.mu.Unlock()

		if cfg.Reports != nil {
			cfg.Reports.Report(reports.BrailleDeviceOnline, cfg.Identifier)
		}
		return nil
	}

	a.Stop = func(data any) {
		st := data.(*state)
		if st.monitor.Valid() {
			sched.CancelMonitor(st.monitor)
		}
		if st.endpoint != nil {
			st.endpoint.Close()
		}

		handle.mu.Lock()
		if handle.current == st {
			handle.current = nil
		}
		handle.mu.Unlock()

		if cfg.Reports != nil {
			cfg.Reports.Report(reports.BrailleDeviceOffline, cfg.Identifier)
		}
	}

	return a, handle
}

func onByteReady(st *state, cfg Config) {
	b, ok, err := st.endpoint.ReadByte(0)
	if err != nil || !ok {
		return
	}

	switch b {
	case ACK:
		st.ack.OnAcknowledge()
		return
	case NAK:
		return
	}

	complete, payload, _, valid := st.reader.Feed(b)
	if !complete || !valid || len(payload) == 0 {
		return
	}

	// The example protocol's incoming frame payload is a bitmask snapshot
	// of the braille-key bank: bit N set means key N is currently held.
	var down []keytable.KeyValue
	for _, bits := range payload {
		for n := 0; n < 8; n++ {
			if bits&(1<<uint(n)) != 0 {
				down = append(down, keytable.KeyValue{Group: keytable.GroupBraille, Number: n})
			}
		}
	}
	cfg.Session.EnqueueUpdatedKeys(down)
}
