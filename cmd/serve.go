package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"brld/internal/activity"
	"brld/internal/auth"
	"brld/internal/braille"
	"brld/internal/brlapi"
	"brld/internal/command"
	"brld/internal/config"
	"brld/internal/driver"
	"brld/internal/history"
	"brld/internal/keytable"
	"brld/internal/reports"
	"brld/internal/scheduler"
	"brld/internal/transport"
	"brld/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "brld: %v\n", err)
			os.Exit(1)
		}
	},
}

func runDaemon(cmd *cobra.Command) error {
	resolvedConfigPath := configPath
	if resolvedConfigPath == "" {
		resolvedConfigPath = config.FileName
	}

	cfg, err := config.Load(resolvedConfigPath)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.New()
	bus := reports.New()
	queue := command.New()
	queue.OnRejected(func(cmd command.Command) {
		bus.Report(reports.CommandRejected, cmd)
	})

	// routeToClients forwards every dispatched command to whichever BrlAPI
	// session currently holds the active tty, once the server exists below;
	// it is a no-op until then.
	var routeToClients func(command.Command)

	defaultContext := keytable.NewContext("default")
	keys := keytable.New(sched, defaultContext, keytable.Config{
		StickyModifierTimeout: 1500 * time.Millisecond,
		LongPressTime:         800 * time.Millisecond,
		AutorepeatInterval:    400 * time.Millisecond,
		AutoReleaseTime:       3 * time.Second,
		Dispatch: func(cmd command.Command) {
			if routeToClients != nil {
				routeToClients(cmd)
			}
			queue.Dispatch(cmd)
		},
		LogDropped: func(kv keytable.KeyValue, reason string) {
			util.Default.Printf("dropped key group=%d number=%d: %s\n", kv.Group, kv.Number, reason)
		},
	})

	display := braille.NewBuffer(cfg.Display.Rows, cfg.Display.Cols)
	session := braille.NewSession(keys)

	verifier := auth.NewVerifier()
	for _, scheme := range cfg.Auth.Schemes {
		switch scheme {
		case "keyfile":
			verifier.RegisterScheme("keyfile", auth.KeyfileScheme(cfg.Auth.KeyfilePath))
		case "user":
			verifier.RegisterScheme("user", auth.UserScheme)
		case "group":
			verifier.RegisterScheme("group", auth.GroupScheme)
		case "polkit":
			verifier.RegisterScheme("polkit", auth.PolkitScheme(nil))
		default:
			util.Default.Printf("warning: unknown auth scheme %q ignored\n", scheme)
		}
	}

	registry := brlapi.NewRegistry()
	registerParams(registry, cfg, bus)

	watcher, err := config.WatchFile(resolvedConfigPath, func(newCfg *config.Config) {
		bus.Report(reports.ConfigReloaded, newCfg)
		util.Default.Printf("config reloaded from %s\n", resolvedConfigPath)
	})
	if err != nil {
		util.Default.Printf("warning: config hot-reload disabled: %v\n", err)
	} else {
		defer watcher.Close()
	}

	retryInterval := parseDurationOr(cfg.RetryInterval, 5*time.Second)
	startTimeout := parseDurationOr(cfg.StartTimeout, 5*time.Second)
	stopTimeout := parseDurationOr(cfg.StopTimeout, 2*time.Second)

	displayActivity, driverHandle := driver.NewActivity(sched, "display", driver.Config{
		Identifier: cfg.Transport.Identifier,
		Descriptor: transport.Descriptor{
			BaudRate:          cfg.Transport.BaudRate,
			SSHUser:           cfg.Transport.SSHUser,
			SSHHost:           cfg.Transport.SSHHost,
			SSHPort:           cfg.Transport.SSHPort,
			SSHPrivateKeyPath: cfg.Transport.SSHPrivateKeyPath,
			RemoteIdentifier:  cfg.Transport.RemoteIdentifier,
		},
		Session:      session,
		Reports:      bus,
		AckTimeout:   500 * time.Millisecond,
		MissingLimit: 3,
	})
	displayActivity.RetryInterval = retryInterval
	displayActivity.StartTimeout = startTimeout
	displayActivity.StopTimeout = stopTimeout
	displayActivity.OnTransition(func(tr activity.Transition) {
		_ = store.RecordTransition("display", tr)
	})

	// flushDisplay sends changed cell runs to the attached display. Run on a
	// fixed cadence rather than on every Write so bursts of client writes
	// coalesce into one transmission the way the AckQueue expects, and also
	// exposed to the BrlAPI server so a client's Synchronize request can
	// force an immediate flush instead of waiting for the next tick.
	flushDisplay := func() {
		runs := display.ChangedRuns()
		if len(runs) == 0 {
			return
		}
		for _, run := range runs {
			driverHandle.Send(display.Cells[run.Start:run.End])
		}
		display.Commit()
		bus.Report(reports.ScreenUpdated, runs)
	}
	sched.NewPeriodicAlarm(50*time.Millisecond, 50*time.Millisecond, func(scheduler.AlarmHandle, any) {
		flushDisplay()
	}, nil)

	listenAddr := cfg.Listen.Address
	if cfg.Listen.Network == "tcp" && listenAddr == "auto" {
		port, err := util.GetFreeTCPPort("127.0.0.1")
		if err != nil {
			return err
		}
		listenAddr = fmt.Sprintf("127.0.0.1:%d", port)
		util.Default.Printf("listen.address=auto resolved to %s\n", listenAddr)
	}

	ln, err := net.Listen(cfg.Listen.Network, listenAddr)
	if err != nil {
		return err
	}
	server := brlapi.NewServer(sched, ln, verifier, registry, bus, display, keys)
	server.SetHistory(store)
	server.SetDriverName(cfg.Transport.Identifier)
	server.SetRawSender(driverHandle.Send)
	server.SetSyncFlush(flushDisplay)
	routeToClients = func(cmd command.Command) {
		server.RouteKey(brlapi.MakeKeyCode(0, 0, uint16(cmd.Block()), cmd.Operand()))
	}

	serverActivity := activity.New(sched, "brlapi-server", retryInterval)
	serverActivity.StartTimeout = startTimeout
	serverActivity.StopTimeout = stopTimeout
	serverActivity.Start = func(data any) error {
		go func() {
			if err := server.AcceptLoop(); err != nil {
				util.Default.Printf("brlapi accept loop stopped: %v\n", err)
			}
		}()
		return nil
	}
	serverActivity.Stop = func(data any) {
		ln.Close()
	}
	serverActivity.OnTransition(func(tr activity.Transition) {
		_ = store.RecordTransition("brlapi-server", tr)
	})

	util.Default.PrintBlock(fmt.Sprintf(
		"brld listening on %s\ndisplay: %dx%d cells via %s\nauth schemes: %v",
		listenAddr, cfg.Display.Rows, cfg.Display.Cols, cfg.Transport.Identifier, cfg.Auth.Schemes,
	), false)

	displayActivity.Start()
	serverActivity.Start()

	ctx := cmd.Context()
	sched.Run(func() bool {
		if ctx == nil {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	})

	displayActivity.Stop()
	serverActivity.Stop()
	displayActivity.AwaitStopped(stopTimeout)
	serverActivity.AwaitStopped(stopTimeout)
	return nil
}

func registerParams(registry *brlapi.Registry, cfg *config.Config, bus *reports.Bus) {
	values := make(map[string][]byte, len(cfg.Params))
	for k, v := range cfg.Params {
		values[k] = []byte(v)
	}
	for name, value := range values {
		name, value := name, value
		registry.Define(&brlapi.Param{
			ID:    hashParamName(name),
			Type:  brlapi.ParamOpaque,
			Flags: brlapi.ParamReadable | brlapi.ParamWritable | brlapi.ParamWatchable,
			Get:   func(uint32) []byte { return value },
			Set: func(_ uint32, data []byte) error {
				value = data
				bus.Report(reports.ParamChanged, name)
				return nil
			},
		})
	}
}

// hashParamName maps a config-declared parameter name to a stable numeric
// id, since the wire protocol addresses parameters by number.
func hashParamName(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
