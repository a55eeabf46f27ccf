package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/protocol"
)

var quiet = log.New(io.Discard, "", 0)

type staged struct {
	addr uint32
	data []byte
}

type fakeMem struct {
	mu      sync.Mutex
	ram     map[uint32]byte
	pending []staged
	flushes int
	down    bool
	failAt  map[uint32]bool
}

func newFakeMem() *fakeMem {
	return &fakeMem{ram: map[uint32]byte{}, failAt: map[uint32]bool{}}
}

func (m *fakeMem) Read(_ context.Context, addr uint32, n int) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down || m.failAt[addr] {
		return nil, false
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = m.ram[addr+uint32(i)]
	}
	return out, true
}

func (m *fakeMem) Write(addr uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, staged{addr, append([]byte(nil), data...)})
}

func (m *fakeMem) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("link down")
	}
	for _, w := range m.pending {
		m.poke(w.addr, w.data...)
	}
	m.pending = nil
	m.flushes++
	return nil
}

func (m *fakeMem) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

func (m *fakeMem) poke(addr uint32, data ...byte) {
	for i, b := range data {
		m.ram[addr+uint32(i)] = b
	}
}

func (m *fakeMem) set(addr uint32, data ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poke(addr, data...)
}

func (m *fakeMem) word(addr uint32) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint16(m.ram[addr]) | uint16(m.ram[addr+1])<<8
}

func (m *fakeMem) bytes(addr uint32, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = m.ram[addr+uint32(i)]
	}
	return out
}

// queueChecks writes send queue records for the given location indices
// starting at slot `from` and sets the cursors to (from, from+len).
func (m *fakeMem) queueChecks(from uint16, locs ...int) {
	for i, loc := range locs {
		v := uint16(loc<<3 | 0b101)
		addr := SendQueueStart + uint32(int(from)+i)*SendRecordSize
		m.set(addr, 0xAA, 0xBB, 0xCC, 0xDD, byte(v), byte(v>>8), 0, 0)
	}
	w := from + uint16(len(locs))
	m.set(SendQueueRCount, byte(from), byte(from>>8), byte(w), byte(w>>8))
}

type fakeServer struct {
	mu       sync.Mutex
	ready    bool
	slot     int
	items    []protocol.NetworkItem
	reported []int64
	goals    int
	names    map[int]string
}

func (s *fakeServer) Ready() bool { return s.ready }
func (s *fakeServer) Slot() int   { return s.slot }

func (s *fakeServer) PlayerName(slot int) string {
	if n, ok := s.names[slot]; ok {
		return n
	}
	return fmt.Sprintf("Player %d", slot)
}

func (s *fakeServer) ItemsReceived() []protocol.NetworkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.NetworkItem(nil), s.items...)
}

func (s *fakeServer) ReportLocation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = append(s.reported, id)
	return nil
}

func (s *fakeServer) ReportGoal(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

const (
	remoteItemsAddr uint32 = 0x1000
	deathLinkAddr   uint32 = 0x1001
)

func setup(t *testing.T) (*Bridge, *fakeMem, *fakeServer, *recorder) {
	t.Helper()
	mem := newFakeMem()
	mem.set(ROMNameAddr, gendata.IdentityTag("0.1.0", 2, 99)...)
	srv := &fakeServer{ready: true, slot: 2}
	rec := &recorder{}
	b := New(Config{RemoteItemsAddr: remoteItemsAddr, DeathLinkAddr: deathLinkAddr, KillConfirmDelay: time.Millisecond}, Deps{
		Memory: mem,
		Server: srv,
		Sink:   rec,
		Logger: quiet,
	})
	return b, mem, srv, rec
}

func TestTick_DrainsExactlyPendingChecks(t *testing.T) {
	b, mem, srv, rec := setup(t)
	mem.queueChecks(2, 10, 11, 12)

	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	want := []int64{catalog.LocationID(10), catalog.LocationID(11), catalog.LocationID(12)}
	if len(srv.reported) != 3 {
		t.Fatalf("reported=%v want %v", srv.reported, want)
	}
	for i := range want {
		if srv.reported[i] != want[i] {
			t.Fatalf("reported=%v want %v", srv.reported, want)
		}
	}
	if got := mem.word(SendQueueRCount); got != 5 {
		t.Fatalf("read cursor=%d want 5", got)
	}
	if mem.flushes != 1 {
		t.Fatalf("flushes=%d want 1", mem.flushes)
	}
	if len(rec.events) != 3 || rec.events[0].Kind != EventCheck || rec.events[0].ROM == "" {
		t.Fatalf("events=%+v", rec.events)
	}
}

func TestTick_NeverReReports(t *testing.T) {
	b, mem, srv, _ := setup(t)
	mem.queueChecks(0, 4, 5)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// A reloaded save replays the same checks.
	mem.queueChecks(0, 4, 5, 6)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(srv.reported) != 3 || srv.reported[2] != catalog.LocationID(6) {
		t.Fatalf("reported=%v", srv.reported)
	}
	b.MarkReported(catalog.LocationID(7))
	mem.queueChecks(3, 7)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(srv.reported) != 3 {
		t.Fatalf("seeded location reported again: %v", srv.reported)
	}
}

func TestTick_RecordReadFailureStopsDrain(t *testing.T) {
	b, mem, srv, _ := setup(t)
	mem.queueChecks(0, 1, 2, 3)
	mem.failAt[SendQueueStart+1*SendRecordSize] = true

	err := b.Tick(context.Background())
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if len(srv.reported) != 1 {
		t.Fatalf("reported=%v want only the first", srv.reported)
	}
	if mem.flushes != 0 || mem.word(SendQueueRCount) != 0 {
		t.Fatalf("aborted tick must not flush: flushes=%d cursor=%d", mem.flushes, mem.word(SendQueueRCount))
	}
	if len(mem.pending) != 0 {
		t.Fatalf("aborted tick left %d staged writes", len(mem.pending))
	}

	// Next tick resumes from the unflushed cursor; the first check is not re-reported.
	delete(mem.failAt, SendQueueStart+1*SendRecordSize)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(srv.reported) != 3 || mem.word(SendQueueRCount) != 3 {
		t.Fatalf("reported=%v cursor=%d", srv.reported, mem.word(SendQueueRCount))
	}
}

func TestTick_DeliveryLogsSenderName(t *testing.T) {
	b, _, srv, _ := setup(t)
	var buf bytes.Buffer
	b.logger = log.New(&buf, "", 0)
	srv.names = map[int]string{3: "Carol"}
	srv.items = []protocol.NetworkItem{{Item: catalog.ItemID(0x05), Location: catalog.LocationID(41), Player: 3}}
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !strings.Contains(buf.String(), "from Carol (1/1 in list)") {
		t.Fatalf("log=%q", buf.String())
	}
}

func TestTick_DeliversOneItemPerTick(t *testing.T) {
	b, mem, srv, rec := setup(t)
	srv.items = []protocol.NetworkItem{
		{Item: catalog.ItemID(0x03), Location: catalog.LocationID(40), Player: 1},
		{Item: catalog.ItemID(0x05), Location: catalog.LocationID(41), Player: 3},
		{Item: catalog.ItemID(0x07), Location: catalog.LocationID(42), Player: 4},
	}
	ctx := context.Background()
	if err := b.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := mem.word(RecvQueueWCount); got != 1 {
		t.Fatalf("write cursor=%d want 1", got)
	}
	if got := mem.bytes(RecvQueueStart, 4); got[0] != 1 || got[1] != 0 || got[2] != 0x03 || got[3] != 0 {
		t.Fatalf("record 0: % X", got)
	}
	if err := b.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := mem.word(RecvQueueWCount); got != 2 {
		t.Fatalf("write cursor=%d want 2", got)
	}
	if got := mem.bytes(RecvQueueStart+RecvRecordSize, 4); got[0] != 3 || got[2] != 0x05 {
		t.Fatalf("record 1: % X", got)
	}
	n := 0
	for _, e := range rec.events {
		if e.Kind == EventDelivery {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("delivery events=%d", n)
	}

	// The game has not consumed anything new: nothing more is written.
	mem.set(RecvQueueWCount, 3, 0)
	if err := b.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := mem.word(RecvQueueWCount); got != 3 {
		t.Fatalf("write cursor=%d want 3", got)
	}
}

func TestTick_LocationFieldAndPlayerClamp(t *testing.T) {
	b, mem, srv, _ := setup(t)
	mem.set(remoteItemsAddr, 0b111)
	srv.items = []protocol.NetworkItem{
		{Item: catalog.ItemID(0x04), Location: catalog.LocationID(9), Player: 2},
		{Item: catalog.ItemID(0x04), Location: catalog.LocationID(9), Player: 70000},
		{Item: catalog.ItemID(0x04), Location: catalog.LocationID(9), Player: 5},
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if got := mem.bytes(RecvQueueStart, 4); got[0] != 2 || got[3] != 9 {
		t.Fatalf("own item from own world: % X", got)
	}
	if got := mem.bytes(RecvQueueStart+RecvRecordSize, 4); got[0] != 0 || got[1] != 0 {
		t.Fatalf("player above max must be 0: % X", got)
	}
	if got := mem.bytes(RecvQueueStart+2*RecvRecordSize, 4); got[0] != 5 || got[3] != 0 {
		t.Fatalf("foreign origin discloses no location: % X", got)
	}
}

func TestTick_LocationFieldZeroWithoutRemoteItems(t *testing.T) {
	b, mem, srv, _ := setup(t)
	mem.set(remoteItemsAddr, 0b101)
	srv.items = []protocol.NetworkItem{{Item: catalog.ItemID(0x04), Location: catalog.LocationID(9), Player: 2}}
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := mem.bytes(RecvQueueStart, 4); got[3] != 0 {
		t.Fatalf("location field=%d want 0", got[3])
	}
	rom, ok := b.ROM()
	if !ok || rom.RemoteItems() || rom.ItemsHandling != 0b101 {
		t.Fatalf("rom=%+v", rom)
	}
}

func TestTick_GoalReportedOnce(t *testing.T) {
	b, mem, srv, rec := setup(t)
	mem.set(GameModeAddr, 0x26)
	mem.queueChecks(0, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if srv.goals != 1 {
		t.Fatalf("goals=%d want 1", srv.goals)
	}
	if len(srv.reported) != 0 {
		t.Fatalf("ending mode must skip the drain: %v", srv.reported)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != EventGoal {
		t.Fatalf("events=%+v", rec.events)
	}
}

func TestTick_Disconnected(t *testing.T) {
	b, mem, srv, _ := setup(t)
	mem.queueChecks(0, 1)
	mem.down = true
	if err := b.Tick(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if len(srv.reported) != 0 {
		t.Fatalf("reported while down: %v", srv.reported)
	}
	mem.down = false
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick after reconnect: %v", err)
	}
	if len(srv.reported) != 1 {
		t.Fatalf("reported=%v", srv.reported)
	}
}

func TestTick_NotReadyDoesNothing(t *testing.T) {
	b, mem, srv, _ := setup(t)
	srv.ready = false
	mem.down = true
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestTick_InFlight(t *testing.T) {
	b, _, _, _ := setup(t)
	b.tick.Lock()
	defer b.tick.Unlock()
	if err := b.Tick(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Fatalf("expected ErrTickInFlight, got %v", err)
	}
}

func TestValidateROM(t *testing.T) {
	b, mem, _, _ := setup(t)
	death := NewDeathLink(nil, quiet)
	b.death = death
	mem.set(deathLinkAddr, 0b101)
	info, err := b.ValidateROM(context.Background())
	if err != nil {
		t.Fatalf("ValidateROM: %v", err)
	}
	if !info.DeathLink || !info.AllowCollect || !death.Enabled() {
		t.Fatalf("info=%+v enabled=%v", info, death.Enabled())
	}
	if info.Key() == "" || info.Key()[:2] != "CR" {
		t.Fatalf("key=%q", info.Key())
	}

	mem.set(ROMNameAddr, []byte("SUPER METROID        ")...)
	if _, err := b.ValidateROM(context.Background()); !errors.Is(err, ErrNotOurROM) {
		t.Fatalf("expected ErrNotOurROM, got %v", err)
	}
	mem.down = true
	if _, err := b.ValidateROM(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, mem, srv, _ := setup(t)
	b.cfg.PollInterval = time.Millisecond
	mem.queueChecks(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		n := len(srv.reported)
		srv.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run never reported the check")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
