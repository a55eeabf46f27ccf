// Package usb2snes talks to a QUsb2Snes or SNI server over its usb2snes
// websocket protocol and exposes the console's memory as byte ranges.
//
// Requests are JSON text frames; GetAddress replies with binary frames that
// may be split, PutAddress is followed by one binary frame of data.
package usb2snes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNoDevice = errors.New("no usb2snes device")

const (
	OpDeviceList = "DeviceList"
	OpAttach     = "Attach"
	OpName       = "Name"
	OpInfo       = "Info"
	OpGetAddress = "GetAddress"
	OpPutAddress = "PutAddress"

	spaceSNES = "SNES"

	DefaultURL = "ws://localhost:23074"

	ioTimeout = 5 * time.Second
	// Dial attempts are spaced so a dead server is not hammered every poll.
	redialInterval = time.Second
)

type request struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space,omitempty"`
	Operands []string `json:"Operands"`
}

type reply struct {
	Results []string `json:"Results"`
}

type write struct {
	addr uint32
	data []byte
}

type Config struct {
	URL string
	// Device to attach; empty picks the first one listed.
	Device string
	// AppName is announced with the Name opcode.
	AppName string
}

type Client struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex // one request in flight
	conn     *websocket.Conn
	device   string
	lastDial time.Time

	stageMu sync.Mutex
	staged  []write
}

func New(cfg Config, logger *log.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.AppName == "" {
		cfg.AppName = "cliffredux"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect dials the server and attaches to a device.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.closeLocked()
	c.lastDial = time.Now()

	d := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, resp, err := d.DialContext(ctx, c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c.conn = conn

	devices, err := c.callLocked(ctx, request{Opcode: OpDeviceList, Space: spaceSNES})
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("device list: %w", err)
	}
	device := c.cfg.Device
	if device == "" {
		if len(devices) == 0 {
			c.closeLocked()
			return ErrNoDevice
		}
		device = devices[0]
	} else if !contains(devices, device) {
		c.closeLocked()
		return fmt.Errorf("%w: %q not in %v", ErrNoDevice, device, devices)
	}
	for _, r := range []request{
		{Opcode: OpAttach, Space: spaceSNES, Operands: []string{device}},
		{Opcode: OpName, Space: spaceSNES, Operands: []string{c.cfg.AppName}},
	} {
		if err := c.sendLocked(ctx, r); err != nil {
			c.closeLocked()
			return fmt.Errorf("%s: %w", strings.ToLower(r.Opcode), err)
		}
	}
	c.device = device
	c.logger.Printf("usb2snes: attached to %s", device)
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.device = ""
}

// Info returns the attached device's firmware, version string and ROM name.
func (c *Client) Info(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(ctx); err != nil {
		return nil, err
	}
	res, err := c.callLocked(ctx, request{Opcode: OpInfo, Space: spaceSNES})
	if err != nil {
		c.closeLocked()
	}
	return res, err
}

// ensureLocked redials a dropped link, at most once per redialInterval.
func (c *Client) ensureLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if time.Since(c.lastDial) < redialInterval {
		return errors.New("usb2snes: not connected")
	}
	return c.connectLocked(ctx)
}

// Read returns n bytes at addr, or ok=false if the link is down.
func (c *Client) Read(ctx context.Context, addr uint32, n int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(ctx); err != nil {
		return nil, false
	}
	b, err := c.getAddressLocked(ctx, addr, n)
	if err != nil {
		c.logger.Printf("usb2snes: read %d bytes at %06X: %v", n, addr, err)
		c.closeLocked()
		return nil, false
	}
	return b, true
}

func (c *Client) getAddressLocked(ctx context.Context, addr uint32, n int) ([]byte, error) {
	r := request{Opcode: OpGetAddress, Space: spaceSNES, Operands: []string{hex(addr), hex(uint32(n))}}
	if err := c.sendLocked(ctx, r); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		c.setDeadline(ctx, false)
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			return nil, fmt.Errorf("unexpected frame type %d", typ)
		}
		out = append(out, msg...)
	}
	if len(out) != n {
		return nil, fmt.Errorf("got %d bytes, want %d", len(out), n)
	}
	return out, nil
}

// Write stages data at addr. Contiguous writes are merged.
func (c *Client) Write(addr uint32, data []byte) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	if k := len(c.staged); k > 0 {
		last := &c.staged[k-1]
		if last.addr+uint32(len(last.data)) == addr {
			last.data = append(last.data, data...)
			return
		}
	}
	c.staged = append(c.staged, write{addr: addr, data: append([]byte(nil), data...)})
}

// Flush sends every staged write. Staged writes are dropped on failure.
func (c *Client) Flush(ctx context.Context) error {
	c.stageMu.Lock()
	writes := c.staged
	c.staged = nil
	c.stageMu.Unlock()
	if len(writes) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(ctx); err != nil {
		return err
	}
	for _, w := range writes {
		r := request{Opcode: OpPutAddress, Space: spaceSNES, Operands: []string{hex(w.addr), hex(uint32(len(w.data)))}}
		if err := c.sendLocked(ctx, r); err != nil {
			c.closeLocked()
			return err
		}
		c.setDeadline(ctx, true)
		if err := c.conn.WriteMessage(websocket.BinaryMessage, w.data); err != nil {
			c.closeLocked()
			return err
		}
	}
	return nil
}

// Discard drops writes staged since the last Flush.
func (c *Client) Discard() {
	c.stageMu.Lock()
	c.staged = nil
	c.stageMu.Unlock()
}

func (c *Client) sendLocked(ctx context.Context, r request) error {
	if c.conn == nil {
		return errors.New("usb2snes: not connected")
	}
	if r.Operands == nil {
		r.Operands = []string{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	c.setDeadline(ctx, true)
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) callLocked(ctx context.Context, r request) ([]string, error) {
	if err := c.sendLocked(ctx, r); err != nil {
		return nil, err
	}
	c.setDeadline(ctx, false)
	typ, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected frame type %d", typ)
	}
	var rep reply
	if err := json.Unmarshal(msg, &rep); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return rep.Results, nil
}

func (c *Client) setDeadline(ctx context.Context, write bool) {
	dl := time.Now().Add(ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(dl) {
		dl = d
	}
	if write {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(dl)
	}
}

func hex(v uint32) string { return fmt.Sprintf("%X", v) }
