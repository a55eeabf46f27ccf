package main

import (
	"flag"
	"log"
	"os"
	"sort"

	"cliffredux.ai/internal/config"
	"cliffredux.ai/internal/gen/session"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to cliffredux.yaml (empty: defaults)")
		sessionPath = flag.String("session", "./configs/session.example.yaml", "filled session description")
		outDir      = flag.String("out", "", "output directory (overrides config)")
		player      = flag.Int("player", 0, "only write this player's container (0: every player)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[gen] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	dir := cfg.Patch.OutputDir
	if *outDir != "" {
		dir = *outDir
	}

	s, err := session.Load(*sessionPath)
	if err != nil {
		logger.Fatalf("load session: %v", err)
	}

	ids := make([]int, 0, len(s.Players))
	for id := range s.Players {
		if *player == 0 || id == *player {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		logger.Fatalf("player %d is not in the session", *player)
	}
	sort.Ints(ids)

	for _, id := range ids {
		out, err := s.Build(id, logger)
		if err != nil {
			logger.Fatalf("player %d: %v", id, err)
		}
		if out.Dropped > 0 {
			logger.Printf("player %d: %d player ids did not fit the player table", id, out.Dropped)
		}
		path, err := out.Write(dir)
		if err != nil {
			logger.Fatalf("player %d: %v", id, err)
		}
		logger.Printf("wrote %s (%d locations, %d extra names)", path, len(out.GenData.Game.Locations), len(out.GenData.ItemRomData.ExtraNames))
	}
}
