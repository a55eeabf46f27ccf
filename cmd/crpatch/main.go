package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cliffredux.ai/internal/config"
	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/patch/container"
	"cliffredux.ai/internal/patch/patcher"
	"cliffredux.ai/internal/persistence/ledger"
	persistlog "cliffredux.ai/internal/persistence/log"
	"cliffredux.ai/internal/rom/snes"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to cliffredux.yaml (empty: defaults)")
		basePath   = flag.String("base", "", "base image (overrides config)")
		outDir     = flag.String("out", "", "output directory (overrides config)")
		strict     = flag.Bool("strict", false, "fail when the base image checksum does not match")
		noLedger   = flag.Bool("no_ledger", false, "do not record builds in the ledger")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file%s...\n", filepath.Base(os.Args[0]), catalog.PatchFileEnding)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.New(os.Stdout, "[patch] ", log.LstdFlags|log.Lmicroseconds)
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if v := strings.TrimSpace(*basePath); v != "" {
		cfg.Patch.BaseROM = v
	}
	if v := strings.TrimSpace(*outDir); v != "" {
		cfg.Patch.OutputDir = v
	}
	cfg.Patch.StrictChecksum = cfg.Patch.StrictChecksum || *strict

	res, err := patcher.LoadResources(cfg.Patch.Symbols, cfg.Patch.MultiPatch, cfg.Patch.SpriteDir)
	if err != nil {
		logger.Fatalf("load resources: %v", err)
	}
	base, err := os.ReadFile(cfg.Patch.BaseROM)
	if err != nil {
		logger.Fatalf("read base image: %v", err)
	}
	baseMD5 := snes.MD5Hex(snes.StripCopierHeader(base))

	var led *ledger.Ledger
	if p := cfg.Client.LedgerPath(); p != "" && !*noLedger {
		if led, err = ledger.Open(p); err != nil {
			logger.Printf("ledger disabled: %v", err)
			led = nil
		} else {
			defer led.Close()
		}
	}
	var builds *persistlog.BuildLog
	if dir := cfg.Client.EventLogDir(); dir != "" {
		builds = persistlog.NewBuildLog(dir)
		defer builds.Close()
	}

	p := patcher.New(res, cfg.Patch.StrictChecksum, logger)
	failed := 0
	for _, in := range flag.Args() {
		out, entry, err := patchOne(p, base, in, cfg.Patch.OutputDir)
		if err != nil {
			logger.Printf("%s: %v", in, err)
			failed++
			continue
		}
		entry.BaseMD5 = baseMD5
		logger.Printf("wrote %s (player %d, %s)", out, entry.Player, entry.ROM)
		if led != nil {
			led.RecordBuild(ledger.Build{Output: out, ROM: entry.ROM, BaseMD5: baseMD5})
		}
		if builds != nil {
			if err := builds.Write(entry); err != nil {
				logger.Printf("build log: %v", err)
			}
		}
	}
	if failed > 0 {
		// Fatalf would skip the deferred closes.
		if led != nil {
			_ = led.Close()
		}
		if builds != nil {
			_ = builds.Close()
		}
		logger.Fatalf("%d of %d patches failed", failed, flag.NArg())
	}
}

// patchOne builds the image for one container and writes it next to the
// other outputs as <container name>.sfc.
func patchOne(p *patcher.Patcher, base []byte, in, outDir string) (string, persistlog.BuildEntry, error) {
	m, payload, err := container.Read(in)
	if err != nil {
		return "", persistlog.BuildEntry{}, err
	}
	if m.Game != catalog.Game {
		return "", persistlog.BuildEntry{}, fmt.Errorf("container is for %q, not %q", m.Game, catalog.Game)
	}
	gd, err := gendata.Decode(payload)
	if err != nil {
		return "", persistlog.BuildEntry{}, err
	}
	img, err := p.Patch(base, gd)
	if err != nil {
		return "", persistlog.BuildEntry{}, err
	}
	name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".sfc"
	out := filepath.Join(outDir, name)
	if err := patcher.WriteImage(out, img); err != nil {
		return "", persistlog.BuildEntry{}, err
	}
	entry := persistlog.BuildEntry{
		Output: out,
		ROM:    strings.TrimRight(string(gd.GameNameInROM), " "),
		Player: gd.Player,
		Seed:   gd.Game.Seed,
	}
	return out, entry, nil
}
