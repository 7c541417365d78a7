package driver

import (
	"testing"
	"time"

	"brld/internal/activity"
	"brld/internal/braille"
	"brld/internal/keytable"
	"brld/internal/reports"
	"brld/internal/scheduler"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) ProcessKeyEvent(key keytable.KeyValue, press bool) {
	verb := "release"
	if press {
		verb = "press"
	}
	r.events = append(r.events, verb)
}

func TestActivityConnectsToVirtualEndpointAndReportsOnline(t *testing.T) {
	sched := scheduler.New()
	bus := reports.New()
	sink := &recordingSink{}
	session := braille.NewSession(sink)

	var online bool
	bus.RegisterListener(reports.BrailleDeviceOnline, func(any) { online = true })

	a, handle := NewActivity(sched, "display", Config{
		Identifier:   "virtual",
		Session:      session,
		Reports:      bus,
		AckTimeout:   100 * time.Millisecond,
		MissingLimit: 3,
	})

	a.Start()
	if outcome := a.AwaitStarted(time.Second); outcome != activity.WaitReached {
		t.Fatalf("expected activity to reach Started")
	}
	if !online {
		t.Fatalf("expected a BrailleDeviceOnline report")
	}

	handle.Send([]byte{0x01, 0x02})

	a.Stop()
	a.AwaitStopped(time.Second)
}
