// Package archipelago is the client side of a multiworld server session: it
// connects a slot, keeps the ordered list of items owed to it, reports checks
// and goal completion, and relays shared deaths.
package archipelago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cliffredux.ai/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to the multiworld server")
	ErrRefused      = errors.New("connection refused")
)

type Config struct {
	URL      string
	Game     string
	Slot     string
	Password string
	// ItemsHandling starts at the value sent with Connect; SetItemsHandling
	// changes it later.
	ItemsHandling int
	Tags          []string
}

// Status is a snapshot for logs and the client UI.
type Status struct {
	Connected bool
	Slot      int
	Team      int
	Items     int
	Checked   int
	LastError string
}

type DeathFunc func(source string, at time.Time)

type Session struct {
	cfg    Config
	logger *log.Logger
	uuid   string

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	conn    *websocket.Conn
	writeMu sync.Mutex

	connected     bool
	lastErr       string
	slot          int
	team          int
	slotName      string
	players       map[int]string
	items         []protocol.NetworkItem
	checked       map[int64]struct{}
	goal          bool
	itemsHandling int
	tags          []string
	onDeath       DeathFunc
}

func NewSession(cfg Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	tags := append([]string{"AP"}, cfg.Tags...)
	return &Session{
		cfg:           cfg,
		logger:        logger,
		uuid:          uuid.New().String(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		players:       map[int]string{},
		checked:       map[int64]struct{}{},
		itemsHandling: cfg.ItemsHandling,
		tags:          tags,
		slotName:      cfg.Slot,
	}
}

// OnDeath registers the callback for deaths bounced by other players.
func (s *Session) OnDeath(fn DeathFunc) {
	s.mu.Lock()
	s.onDeath = fn
	s.mu.Unlock()
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.Disconnect()
		<-s.done
	})
}

// Done is closed when the session stops for good.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connected: s.connected,
		Slot:      s.slot,
		Team:      s.team,
		Items:     len(s.items),
		Checked:   len(s.checked),
		LastError: s.lastErr,
	}
}

func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Session) Slot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot
}

func (s *Session) ItemsReceived() []protocol.NetworkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.NetworkItem(nil), s.items...)
}

func (s *Session) PlayerName(id int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.players[id]; ok {
		return n
	}
	if id == 0 {
		return "Archipelago"
	}
	return fmt.Sprintf("Player %d", id)
}

// Checked returns every location known to be checked, sorted.
func (s *Session) Checked() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.checked))
	for id := range s.checked {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarkChecked seeds checks from an earlier run; they are sent on connect.
func (s *Session) MarkChecked(ids ...int64) {
	s.mu.Lock()
	for _, id := range ids {
		s.checked[id] = struct{}{}
	}
	s.mu.Unlock()
}

// ReportLocation records a check and sends it if connected. Checks made while
// disconnected are sent after the next Connected.
func (s *Session) ReportLocation(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.MarkChecked(id)
	if !s.Ready() {
		return nil
	}
	if err := s.send(protocol.LocationChecksMsg{Cmd: protocol.CmdLocationChecks, Locations: []int64{id}}); err != nil {
		s.logger.Printf("archipelago: send check %d: %v (queued)", id, err)
	}
	return nil
}

// ReportGoal marks the slot finished; resent on every reconnect.
func (s *Session) ReportGoal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.goal = true
	s.mu.Unlock()
	if !s.Ready() {
		return nil
	}
	if err := s.send(protocol.StatusUpdateMsg{Cmd: protocol.CmdStatusUpdate, Status: protocol.StatusGoal}); err != nil {
		s.logger.Printf("archipelago: send goal: %v (queued)", err)
	}
	return nil
}

// SendDeath bounces a death to every slot with the DeathLink tag.
func (s *Session) SendDeath(ctx context.Context, cause string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Ready() {
		return ErrNotConnected
	}
	s.mu.RLock()
	source := s.slotName
	s.mu.RUnlock()
	data, err := json.Marshal(protocol.DeathLinkData{
		Time:   float64(time.Now().UnixNano()) / 1e9,
		Cause:  cause,
		Source: source,
	})
	if err != nil {
		return err
	}
	return s.send(protocol.BounceMsg{Cmd: protocol.CmdBounce, Tags: []string{protocol.TagDeathLink}, Data: data})
}

// SetDeathLink adds or removes the DeathLink tag.
func (s *Session) SetDeathLink(on bool) error {
	s.mu.Lock()
	has := protocol.HasTag(s.tags, protocol.TagDeathLink)
	if has == on {
		s.mu.Unlock()
		return nil
	}
	if on {
		s.tags = append(s.tags, protocol.TagDeathLink)
	} else {
		kept := s.tags[:0]
		for _, t := range s.tags {
			if t != protocol.TagDeathLink {
				kept = append(kept, t)
			}
		}
		s.tags = kept
	}
	s.mu.Unlock()
	return s.sendConnectUpdate()
}

func (s *Session) SetItemsHandling(v int) error {
	s.mu.Lock()
	if s.itemsHandling == v {
		s.mu.Unlock()
		return nil
	}
	s.itemsHandling = v
	s.mu.Unlock()
	return s.sendConnectUpdate()
}

func (s *Session) sendConnectUpdate() error {
	if !s.Ready() {
		return nil
	}
	s.mu.RLock()
	msg := protocol.ConnectUpdateMsg{
		Cmd:           protocol.CmdConnectUpdate,
		ItemsHandling: s.itemsHandling,
		Tags:          append([]string(nil), s.tags...),
	}
	s.mu.RUnlock()
	return s.send(msg)
}

func (s *Session) send(msgs ...any) error {
	b, err := protocol.EncodeBatch(msgs...)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			s.Disconnect()
			return
		default:
		}

		err := s.connectAndReadLoop()
		if err == nil {
			return
		}
		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.lastErr = err.Error()
		s.mu.Unlock()
		if errors.Is(err, ErrRefused) {
			s.logger.Printf("archipelago: %v; giving up", err)
			return
		}
		s.logger.Printf("archipelago: %v; retrying in %s", err, backoff)
		select {
		case <-s.stop:
			s.Disconnect()
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

func (s *Session) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-s.stop:
				return nil
			default:
			}
			return err
		}
		cmds, err := protocol.DecodeBatch(msg)
		if err != nil {
			continue
		}
		for _, raw := range cmds {
			if err := s.handle(raw); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}

func (s *Session) handle(raw json.RawMessage) error {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return nil
	}
	switch base.Cmd {
	case protocol.CmdRoomInfo:
		var m protocol.RoomInfoMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		s.mu.RLock()
		connect := protocol.ConnectMsg{
			Cmd:           protocol.CmdConnect,
			Password:      s.cfg.Password,
			Game:          s.cfg.Game,
			Name:          s.cfg.Slot,
			UUID:          s.uuid,
			Version:       protocol.ClientVersion,
			ItemsHandling: s.itemsHandling,
			Tags:          append([]string(nil), s.tags...),
		}
		s.mu.RUnlock()
		return s.send(connect)

	case protocol.CmdConnectionRefused:
		var m protocol.ConnectionRefusedMsg
		_ = json.Unmarshal(raw, &m)
		for _, code := range m.Errors {
			if !protocol.IsKnownCode(code) {
				s.logger.Printf("archipelago: unknown refusal reason %q", code)
			}
		}
		err := fmt.Errorf("server refused slot %q: %s", s.cfg.Slot, strings.Join(m.Errors, ", "))
		if !protocol.Retryable(m.Errors) {
			return fmt.Errorf("%w: %v", ErrRefused, err)
		}
		return err

	case protocol.CmdConnected:
		var m protocol.ConnectedMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		s.onConnected(m)

	case protocol.CmdReceivedItems:
		var m protocol.ReceivedItemsMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		s.onReceivedItems(m)

	case protocol.CmdRoomUpdate:
		var m protocol.RoomUpdateMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		s.mu.Lock()
		for _, id := range m.CheckedLocations {
			s.checked[id] = struct{}{}
		}
		for _, p := range m.Players {
			if p.Team == s.team {
				s.players[p.Slot] = p.Alias
			}
		}
		s.mu.Unlock()

	case protocol.CmdBounced:
		var m protocol.BounceMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		s.onBounced(m)

	case protocol.CmdPrintJSON:
		var m protocol.PrintJSONMsg
		if err := json.Unmarshal(raw, &m); err == nil && m.Text() != "" {
			s.logger.Printf("archipelago: %s", m.Text())
		}
	}
	return nil
}

func (s *Session) onConnected(m protocol.ConnectedMsg) {
	s.mu.Lock()
	s.slot = m.Slot
	s.team = m.Team
	for _, p := range m.Players {
		if p.Team != m.Team {
			continue
		}
		name := p.Alias
		if name == "" {
			name = p.Name
		}
		s.players[p.Slot] = name
		if p.Slot == m.Slot {
			s.slotName = p.Name
		}
	}
	known := make(map[int64]struct{}, len(m.CheckedLocations))
	for _, id := range m.CheckedLocations {
		known[id] = struct{}{}
	}
	var pending []int64
	for id := range s.checked {
		if _, ok := known[id]; !ok {
			pending = append(pending, id)
		}
	}
	for id := range known {
		s.checked[id] = struct{}{}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	goal := s.goal
	s.connected = true
	s.lastErr = ""
	s.mu.Unlock()

	s.logger.Printf("archipelago: connected as slot %d (%s)", m.Slot, s.slotName)

	var out []any
	if len(pending) > 0 {
		out = append(out, protocol.LocationChecksMsg{Cmd: protocol.CmdLocationChecks, Locations: pending})
	}
	if goal {
		out = append(out, protocol.StatusUpdateMsg{Cmd: protocol.CmdStatusUpdate, Status: protocol.StatusGoal})
	}
	if len(out) > 0 {
		if err := s.send(out...); err != nil {
			s.logger.Printf("archipelago: resend after connect: %v", err)
		}
	}
}

// onReceivedItems keeps items in server order. Index 0 restarts the list; any
// other index must continue it exactly, otherwise a full Sync is requested.
func (s *Session) onReceivedItems(m protocol.ReceivedItemsMsg) {
	s.mu.Lock()
	switch {
	case m.Index == 0:
		s.items = append([]protocol.NetworkItem(nil), m.Items...)
	case m.Index == len(s.items):
		s.items = append(s.items, m.Items...)
	default:
		have := len(s.items)
		s.mu.Unlock()
		s.logger.Printf("archipelago: received items at %d but have %d; resyncing", m.Index, have)
		if err := s.send(protocol.SyncMsg{Cmd: protocol.CmdSync}); err != nil {
			s.logger.Printf("archipelago: sync: %v", err)
		}
		return
	}
	s.mu.Unlock()
}

func (s *Session) onBounced(m protocol.BounceMsg) {
	if !protocol.HasTag(m.Tags, protocol.TagDeathLink) {
		return
	}
	var d protocol.DeathLinkData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return
	}
	s.mu.RLock()
	self := s.slotName
	fn := s.onDeath
	enabled := protocol.HasTag(s.tags, protocol.TagDeathLink)
	s.mu.RUnlock()
	if !enabled || fn == nil || d.Source == self {
		return
	}
	sec := int64(d.Time)
	at := time.Unix(sec, int64((d.Time-float64(sec))*1e9))
	fn(d.Source, at)
}
