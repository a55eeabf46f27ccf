package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cliffredux.ai/internal/bridge"
	"cliffredux.ai/internal/config"
	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/patch/patcher"
	"cliffredux.ai/internal/persistence/ledger"
	persistlog "cliffredux.ai/internal/persistence/log"
	"cliffredux.ai/internal/protocol"
	"cliffredux.ai/internal/rom/symbols"
	"cliffredux.ai/internal/transport/archipelago"
	"cliffredux.ai/internal/transport/usb2snes"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to cliffredux.yaml (empty: defaults)")
		snesURL    = flag.String("usb2snes", "", "usb2snes websocket url (overrides config)")
		device     = flag.String("device", "", "usb2snes device to attach (default: first listed)")
		serverURL  = flag.String("server", "", "multiworld server websocket url (overrides config)")
		slot       = flag.String("slot", "", "slot name (default: derived from the loaded image)")
		password   = flag.String("password", "", "server password")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		symbolPath = flag.String("symbols", "", "symbols.json used to find the image config bytes (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	override(&cfg.Client.USB2SNESURL, *snesURL)
	override(&cfg.Client.Device, *device)
	override(&cfg.Client.ServerURL, *serverURL)
	override(&cfg.Client.Slot, *slot)
	override(&cfg.Client.Password, *password)
	override(&cfg.Client.DataDir, *dataDir)
	override(&cfg.Patch.Symbols, *symbolPath)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var sinks bridge.Sinks
	var led *ledger.Ledger
	if p := cfg.Client.LedgerPath(); p != "" {
		led, err = ledger.Open(p)
		if err != nil {
			logger.Fatalf("open ledger: %v", err)
		}
		defer led.Close()
		sinks = append(sinks, led)
	}
	if dir := cfg.Client.EventLogDir(); dir != "" {
		ev := persistlog.NewEventLog(dir, logger)
		defer ev.Close()
		sinks = append(sinks, ev)
	}

	bcfg := bridge.DefaultConfig()
	bcfg.PollInterval = cfg.Client.PollInterval()
	bcfg.DeathCooldown = cfg.Client.DeathCooldown()
	bcfg.RemoteItemsAddr, bcfg.DeathLinkAddr = configAddrs(cfg.Patch.Symbols, logger)

	snes := usb2snes.New(usb2snes.Config{URL: cfg.Client.USB2SNESURL, Device: cfg.Client.Device}, logger)
	defer snes.Close()

	name, err := waitForROM(ctx, snes, logger)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Fatalf("wait for image: %v", err)
	}
	slotName := cfg.Client.Slot
	if slotName == "" {
		slotName = gendata.ConnectName(name)
	}

	sess := archipelago.NewSession(archipelago.Config{
		URL:           cfg.Client.ServerURL,
		Game:          catalog.Game,
		Slot:          slotName,
		Password:      cfg.Client.Password,
		ItemsHandling: protocol.ItemsFromOthers | protocol.ItemsStartingInv,
	}, logger)
	defer sess.Close()

	death := bridge.NewDeathLink(sess, logger)
	b := bridge.New(bcfg, bridge.Deps{
		Memory:    snes,
		Server:    sess,
		DeathLink: death,
		Sink:      sinks,
		Logger:    logger,
	})
	rom, err := b.ValidateROM(ctx)
	if err != nil {
		logger.Fatalf("validate image: %v", err)
	}
	_ = sess.SetItemsHandling(rom.ItemsHandling)
	_ = sess.SetDeathLink(rom.DeathLink)
	sess.OnDeath(death.OnRemoteDeath)

	if led != nil {
		ids, err := led.ReportedChecks(ctx, rom.Key())
		if err != nil {
			logger.Printf("ledger: %v", err)
		} else if len(ids) > 0 {
			b.MarkReported(ids...)
			sess.MarkChecked(ids...)
			logger.Printf("ledger: %d checks already reported for %s", len(ids), rom.Key())
		}
		if builds, err := led.Builds(ctx, rom.Key()); err == nil && len(builds) > 0 {
			logger.Printf("ledger: image built as %s at %s", builds[0].Output, builds[0].BuiltAt.Format(time.RFC3339))
		}
	}

	logger.Printf("image %s: remote_items=%v death_link=%v slot=%q", rom.Key(), rom.RemoteItems(), rom.DeathLink, slotName)
	sess.Start()
	go func() {
		select {
		case <-sess.Done():
			logger.Printf("server session ended: %s", sess.Status().LastError)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("bridge: %v", err)
	}
	logger.Printf("shutting down with %d checks known to the server", len(sess.Checked()))
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// configAddrs finds the image's config bytes. Without a symbol map the
// bridge falls back to local items and no DeathLink.
func configAddrs(path string, logger *log.Logger) (remote, death uint32) {
	if path == "" {
		return 0, 0
	}
	tbl, err := symbols.Load(path)
	if err != nil {
		logger.Printf("symbols: %v; image config bytes will not be read", err)
		return 0, 0
	}
	if off, err := tbl.Resolve(patcher.SymRemoteItems); err == nil {
		remote = bridge.ROMStart + uint32(off)
	}
	if off, err := tbl.Resolve(patcher.SymDeathLink); err == nil {
		death = bridge.ROMStart + uint32(off)
	}
	return remote, death
}

// waitForROM attaches to a device and waits until it runs a seed for this
// game, returning its identity tag.
func waitForROM(ctx context.Context, snes *usb2snes.Client, logger *log.Logger) ([]byte, error) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	var lastMsg string
	note := func(msg string) {
		if msg != lastMsg {
			logger.Print(msg)
			lastMsg = msg
		}
	}
	for {
		if !snes.Connected() {
			if err := snes.Connect(ctx); err != nil {
				note("usb2snes: " + err.Error())
			}
		}
		if snes.Connected() {
			name, ok := snes.Read(ctx, bridge.ROMNameAddr, bridge.ROMNameSize)
			switch {
			case !ok:
				note("usb2snes: read failed")
			case gendata.ValidTag(name):
				if info, err := snes.Info(ctx); err == nil {
					logger.Printf("usb2snes: %s running %s", snes.Device(), strings.Join(info, " "))
				}
				return name, nil
			default:
				note("loaded image is not a Cliffhanger Redux seed; waiting")
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
