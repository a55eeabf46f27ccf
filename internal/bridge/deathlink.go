package bridge

import (
	"context"
	"log"
	"sync"
	"time"
)

type DeathState uint8

const (
	Alive DeathState = iota
	Dead
	// Killing means a remote death is being applied; the death it causes
	// locally must not be echoed back.
	Killing
)

func (s DeathState) String() string {
	switch s {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	case Killing:
		return "killing"
	default:
		return "unknown"
	}
}

// DeathSender publishes a local death to the other players.
type DeathSender interface {
	SendDeath(ctx context.Context, cause string) error
}

// DeathLink tracks shared deaths. Remote deaths only queue a kill; the bridge
// applies it inside its own tick so the memory cursors keep a single writer.
type DeathLink struct {
	sender DeathSender
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	enabled     bool
	state       DeathState
	last        time.Time
	pendingKill bool
	attempts    int
}

// maxKillAttempts bounds unconfirmed kills for one remote death. After that
// the player is treated as alive again so their own deaths are sent.
const maxKillAttempts = 5

func NewDeathLink(sender DeathSender, logger *log.Logger) *DeathLink {
	if logger == nil {
		logger = log.Default()
	}
	return &DeathLink{sender: sender, logger: logger, now: time.Now}
}

func (d *DeathLink) SetEnabled(on bool) {
	d.mu.Lock()
	d.enabled = on
	if !on {
		d.pendingKill = false
		if d.state == Killing {
			d.state = Alive
		}
	}
	d.mu.Unlock()
}

func (d *DeathLink) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *DeathLink) State() DeathState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Ready reports whether the cooldown since the last shared death has passed.
func (d *DeathLink) Ready(cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled && d.now().After(d.last.Add(cooldown))
}

// NotifyDeathState feeds the game's current death state. An alive to dead
// transition not caused by a remote kill is sent to the other players.
func (d *DeathLink) NotifyDeathState(ctx context.Context, dead bool) {
	d.mu.Lock()
	send := false
	switch {
	case d.state == Killing:
		if dead {
			d.state = Dead
			d.last = d.now()
			d.attempts = 0
		}
	case dead && d.state == Alive:
		d.state = Dead
		d.last = d.now()
		send = true
	case !dead && d.state == Dead:
		d.state = Alive
	}
	d.mu.Unlock()

	if send && d.sender != nil {
		if err := d.sender.SendDeath(ctx, ""); err != nil {
			d.logger.Printf("deathlink: send: %v", err)
		}
	}
}

// OnRemoteDeath is called when another player died. The kill is applied on
// the next tick if the local player is alive.
func (d *DeathLink) OnRemoteDeath(source string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if at.After(d.last) {
		d.last = at
	}
	if !d.enabled || d.state != Alive {
		return
	}
	d.state = Killing
	d.pendingKill = true
	d.attempts = 0
	d.logger.Printf("deathlink: %s died", source)
}

func (d *DeathLink) takeKill() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.pendingKill
	d.pendingKill = false
	return k
}

func (d *DeathLink) retryKill() {
	d.mu.Lock()
	if d.state == Killing {
		d.pendingKill = true
	}
	d.mu.Unlock()
}

// killMissed is called when a kill was written but the game did not die.
func (d *DeathLink) killMissed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Killing {
		return
	}
	d.attempts++
	if d.attempts >= maxKillAttempts {
		d.state = Alive
		d.attempts = 0
		d.logger.Printf("deathlink: kill not confirmed after %d attempts; giving up", maxKillAttempts)
		return
	}
	d.pendingKill = true
}

func (d *DeathLink) markDead() {
	d.mu.Lock()
	d.state = Dead
	d.last = d.now()
	d.attempts = 0
	d.mu.Unlock()
}
