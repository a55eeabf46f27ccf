// Package bridge moves checks and items between a running game and the
// multiworld server through two queues in the game's save RAM.
//
// The game appends 8-byte records to the send queue and advances its write
// cursor; the bridge reads them, advances the read cursor and reports each
// location. Items owed to the player go the other way through the receive
// queue, one per tick. Each cursor has exactly one writer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/protocol"
)

var (
	ErrDisconnected = errors.New("memory transport disconnected")
	ErrTickInFlight = errors.New("tick already in flight")
	ErrNotOurROM    = errors.New("loaded image is not a seed for this game")
)

// Memory is the console memory transport. Read returns ok=false when the
// link is down. Write only stages; Flush commits everything staged.
type Memory interface {
	Read(ctx context.Context, addr uint32, n int) ([]byte, bool)
	Write(addr uint32, data []byte)
	Flush(ctx context.Context) error
	// Discard drops writes staged since the last Flush.
	Discard()
}

// Server is the multiworld session.
type Server interface {
	// Ready is false until the slot is connected.
	Ready() bool
	Slot() int
	// PlayerName is the display name of a slot in the session.
	PlayerName(slot int) string
	// ItemsReceived is the ordered list of items owed to this slot.
	ItemsReceived() []protocol.NetworkItem
	ReportLocation(ctx context.Context, id int64) error
	ReportGoal(ctx context.Context) error
}

type Config struct {
	PollInterval     time.Duration
	DeathCooldown    time.Duration
	KillConfirmDelay time.Duration

	// Bus addresses of the image's config bytes; 0 skips the read.
	RemoteItemsAddr uint32
	DeathLinkAddr   uint32
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     125 * time.Millisecond,
		DeathCooldown:    time.Second,
		KillConfirmDelay: time.Second,
	}
}

// ROMInfo is what ValidateROM learned from the loaded image.
type ROMInfo struct {
	Name          []byte
	ItemsHandling int
	DeathLink     bool
	AllowCollect  bool
}

func (r ROMInfo) RemoteItems() bool { return r.ItemsHandling&protocol.ItemsOwnWorld != 0 }

// Key identifies the seed in logs and the ledger.
func (r ROMInfo) Key() string { return strings.TrimRight(string(r.Name), " \x00") }

type Deps struct {
	Memory    Memory
	Server    Server
	DeathLink *DeathLink
	Sink      EventSink
	Logger    *log.Logger
}

type Bridge struct {
	cfg    Config
	mem    Memory
	srv    Server
	death  *DeathLink
	sink   EventSink
	logger *log.Logger
	now    func() time.Time

	tick sync.Mutex

	mu           sync.Mutex
	rom          ROMInfo
	validated    bool
	goalReported bool
	reported     map[int64]struct{}
}

func New(cfg Config, deps Deps) *Bridge {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DeathCooldown <= 0 {
		cfg.DeathCooldown = def.DeathCooldown
	}
	if cfg.KillConfirmDelay <= 0 {
		cfg.KillConfirmDelay = def.KillConfirmDelay
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	sink := deps.Sink
	if sink == nil {
		sink = Sinks(nil)
	}
	return &Bridge{
		cfg:      cfg,
		mem:      deps.Memory,
		srv:      deps.Server,
		death:    deps.DeathLink,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		reported: map[int64]struct{}{},
	}
}

// MarkReported seeds locations already reported in an earlier run.
func (b *Bridge) MarkReported(ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.reported[id] = struct{}{}
	}
}

func (b *Bridge) ROM() (ROMInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rom, b.validated
}

// ValidateROM reads the identity tag and config bytes of the loaded image.
func (b *Bridge) ValidateROM(ctx context.Context) (ROMInfo, error) {
	name, ok := b.mem.Read(ctx, ROMNameAddr, ROMNameSize)
	if !ok {
		return ROMInfo{}, ErrDisconnected
	}
	if !gendata.ValidTag(name) {
		return ROMInfo{}, fmt.Errorf("%w: title %q", ErrNotOurROM, name)
	}
	info := ROMInfo{
		Name:          append([]byte(nil), name...),
		ItemsHandling: protocol.ItemsFromOthers | protocol.ItemsStartingInv,
	}
	if b.cfg.RemoteItemsAddr != 0 {
		if v, ok := b.mem.Read(ctx, b.cfg.RemoteItemsAddr, 1); ok {
			info.ItemsHandling |= int(v[0] & protocol.ItemsOwnWorld)
		}
	}
	if b.cfg.DeathLinkAddr != 0 {
		if v, ok := b.mem.Read(ctx, b.cfg.DeathLinkAddr, 1); ok {
			info.DeathLink = v[0]&0b001 != 0
			info.AllowCollect = v[0]&0b100 != 0
		}
	}
	if b.death != nil {
		b.death.SetEnabled(info.DeathLink)
	}

	b.mu.Lock()
	b.rom = info
	b.validated = true
	b.mu.Unlock()
	return info, nil
}

// Tick runs one poll: game mode, goal, send queue drain, one delivery, flush.
// Only one tick runs at a time; a concurrent call gets ErrTickInFlight.
// ErrDisconnected aborts the rest of the tick; writes already flushed stay.
func (b *Bridge) Tick(ctx context.Context) (err error) {
	if !b.tick.TryLock() {
		return ErrTickInFlight
	}
	defer b.tick.Unlock()
	// An aborted tick must not leave cursor writes for the next Flush.
	defer func() {
		if err != nil {
			b.mem.Discard()
		}
	}()

	if b.srv == nil || !b.srv.Ready() {
		return nil
	}
	rom, ok := b.ROM()
	if !ok {
		if rom, err = b.ValidateROM(ctx); err != nil {
			return err
		}
	}

	if b.death != nil && b.death.takeKill() {
		if err := b.killPlayer(ctx, rom); err != nil {
			return err
		}
	}

	mode, ok := b.mem.Read(ctx, GameModeAddr, 1)
	if !ok {
		return ErrDisconnected
	}
	if b.death != nil && b.death.Ready(b.cfg.DeathCooldown) {
		b.death.NotifyDeathState(ctx, IsDeathMode(mode[0]))
	}
	if IsEndingMode(mode[0]) {
		b.reportGoal(ctx, rom)
		return nil
	}

	if err := b.drainChecks(ctx, rom); err != nil {
		return err
	}
	if err := b.deliverNext(ctx, rom); err != nil {
		return err
	}
	if err := b.mem.Flush(ctx); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrDisconnected, err)
	}
	return nil
}

func (b *Bridge) reportGoal(ctx context.Context, rom ROMInfo) {
	b.mu.Lock()
	done := b.goalReported
	b.mu.Unlock()
	if done {
		return
	}
	if err := b.srv.ReportGoal(ctx); err != nil {
		b.logger.Printf("report goal: %v", err)
		return
	}
	b.mu.Lock()
	b.goalReported = true
	b.mu.Unlock()
	b.logger.Printf("goal complete")
	b.sink.Record(Event{Kind: EventGoal, ROM: rom.Key(), At: b.now()})
}

// drainChecks reads every pending send queue record. The read cursor is
// staged before the report so a crash can only repeat a report.
func (b *Bridge) drainChecks(ctx context.Context, rom ROMInfo) error {
	cur, ok := b.mem.Read(ctx, SendQueueRCount, 4)
	if !ok {
		return ErrDisconnected
	}
	readIdx := word(cur[0:2])
	writeIdx := word(cur[2:4])

	// Plain 16-bit comparison; wraparound at 65536 is not handled.
	for readIdx < writeIdx {
		rec, ok := b.mem.Read(ctx, SendQueueStart+uint32(readIdx)*SendRecordSize, SendRecordSize)
		if !ok {
			b.logger.Printf("connection lost reading check %d from game", readIdx)
			return ErrDisconnected
		}
		// Low 3 bits of the word are flags.
		locIndex := int(word(rec[4:6]) >> 3)

		readIdx++
		b.mem.Write(SendQueueRCount, wordBytes(readIdx))

		b.reportCheck(ctx, rom, catalog.LocationID(locIndex))
	}
	return nil
}

func (b *Bridge) reportCheck(ctx context.Context, rom ROMInfo, id int64) {
	b.mu.Lock()
	_, seen := b.reported[id]
	b.mu.Unlock()
	if seen {
		return
	}
	if err := b.srv.ReportLocation(ctx, id); err != nil {
		b.logger.Printf("report location %d: %v", id, err)
		return
	}
	b.mu.Lock()
	b.reported[id] = struct{}{}
	n := len(b.reported)
	b.mu.Unlock()
	b.logger.Printf("new check: location %d (%d checked)", id-catalog.BaseID, n)
	b.sink.Record(Event{Kind: EventCheck, ROM: rom.Key(), At: b.now(), Location: id})
}

// deliverNext writes at most one owed item. The game consumes the receive
// queue at its own pace, so this is not a drain loop.
func (b *Bridge) deliverNext(ctx context.Context, rom ROMInfo) error {
	cur, ok := b.mem.Read(ctx, RecvQueueWCount, 2)
	if !ok {
		return ErrDisconnected
	}
	ptr := word(cur)
	items := b.srv.ItemsReceived()
	if int(ptr) >= len(items) {
		return nil
	}
	it := items[ptr]
	code := it.Item - catalog.BaseID

	var locField int64
	if rom.RemoteItems() && it.Player == b.srv.Slot() && it.Location >= 0 {
		locField = it.Location - catalog.BaseID
	}
	player := it.Player
	if player > MaxPlayerID {
		player = 0
	}

	b.mem.Write(RecvQueueStart+uint32(ptr)*RecvRecordSize, []byte{
		byte(player), byte(player >> 8), byte(code), byte(locField),
	})
	ptr++
	b.mem.Write(RecvQueueWCount, wordBytes(ptr))

	b.logger.Printf("received %s from %s (%d/%d in list)", catalog.ItemName(it.Item), b.srv.PlayerName(it.Player), ptr, len(items))
	b.sink.Record(Event{Kind: EventDelivery, ROM: rom.Key(), At: b.now(), Item: it.Item, Player: it.Player, Location: it.Location, Index: int(ptr) - 1})
	return nil
}

// killPlayer applies a remote death: health to 1 so the game cannot save at
// 0 energy, then lethal damage. After a delay the game mode is read once to
// confirm the death.
func (b *Bridge) killPlayer(ctx context.Context, rom ROMInfo) error {
	b.mem.Write(HealthAddr, []byte{1, 0})
	b.mem.Write(DamageAddr, []byte{255})
	if err := b.mem.Flush(ctx); err != nil {
		b.death.retryKill()
		return fmt.Errorf("%w: flush: %v", ErrDisconnected, err)
	}
	b.sink.Record(Event{Kind: EventKill, ROM: rom.Key(), At: b.now()})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.cfg.KillConfirmDelay):
	}
	mode, ok := b.mem.Read(ctx, GameModeAddr, 1)
	switch {
	case !ok || IsDeathMode(mode[0]):
		b.death.markDead()
	default:
		b.death.killMissed()
	}
	return nil
}

// Run ticks every poll interval until ctx is done. Play-time errors are
// logged and the loop continues.
func (b *Bridge) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.PollInterval)
	defer t.Stop()
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		err := b.Tick(ctx)
		switch {
		case err == nil:
			if lastErr != "" {
				b.logger.Printf("game link restored")
				lastErr = ""
			}
		case errors.Is(err, ErrTickInFlight):
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// Log each distinct failure once instead of every poll.
			if err.Error() != lastErr {
				b.logger.Printf("tick: %v", err)
				lastErr = err.Error()
			}
		}
	}
}
