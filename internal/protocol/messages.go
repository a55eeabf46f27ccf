package protocol

import "encoding/json"

type NetworkVersion struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class"`
}

// RoomInfo (server -> client), first frame after the socket opens.
type RoomInfoMsg struct {
	Cmd      string         `json:"cmd"`
	Version  NetworkVersion `json:"version"`
	Tags     []string       `json:"tags,omitempty"`
	Password bool           `json:"password"`
	SeedName string         `json:"seed_name"`
	Time     float64        `json:"time,omitempty"`
}

// Items handling flags sent in Connect.
const (
	ItemsFromOthers   = 0b001
	ItemsOwnWorld     = 0b010
	ItemsStartingInv  = 0b100
	ItemsHandlingFull = ItemsFromOthers | ItemsOwnWorld | ItemsStartingInv
)

// Connect (client -> server)
type ConnectMsg struct {
	Cmd           string         `json:"cmd"`
	Password      string         `json:"password"`
	Game          string         `json:"game"`
	Name          string         `json:"name"`
	UUID          string         `json:"uuid"`
	Version       NetworkVersion `json:"version"`
	ItemsHandling int            `json:"items_handling"`
	Tags          []string       `json:"tags"`
	SlotData      bool           `json:"slot_data"`
}

// ConnectUpdate (client -> server) changes tags or items handling after Connected.
type ConnectUpdateMsg struct {
	Cmd           string   `json:"cmd"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
}

type NetworkPlayer struct {
	Team  int    `json:"team"`
	Slot  int    `json:"slot"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

// Connected (server -> client)
type ConnectedMsg struct {
	Cmd              string          `json:"cmd"`
	Team             int             `json:"team"`
	Slot             int             `json:"slot"`
	Players          []NetworkPlayer `json:"players"`
	MissingLocations []int64         `json:"missing_locations"`
	CheckedLocations []int64         `json:"checked_locations"`
	SlotData         json.RawMessage `json:"slot_data,omitempty"`
	HintPoints       int             `json:"hint_points,omitempty"`
}

// ConnectionRefused (server -> client)
type ConnectionRefusedMsg struct {
	Cmd    string   `json:"cmd"`
	Errors []string `json:"errors"`
}

// NetworkItem is one item sent to a player. Location is where it was found
// and Player is the slot whose world held it.
type NetworkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
}

// ReceivedItems (server -> client). Index is the position of Items[0] in the
// full received list; 0 means the list is being resent from scratch.
type ReceivedItemsMsg struct {
	Cmd   string        `json:"cmd"`
	Index int           `json:"index"`
	Items []NetworkItem `json:"items"`
}

// LocationChecks (client -> server)
type LocationChecksMsg struct {
	Cmd       string  `json:"cmd"`
	Locations []int64 `json:"locations"`
}

type ClientStatus int

const (
	StatusUnknown   ClientStatus = 0
	StatusConnected ClientStatus = 5
	StatusReady     ClientStatus = 10
	StatusPlaying   ClientStatus = 20
	StatusGoal      ClientStatus = 30
)

// StatusUpdate (client -> server)
type StatusUpdateMsg struct {
	Cmd    string       `json:"cmd"`
	Status ClientStatus `json:"status"`
}

// RoomUpdate (server -> client). Only the fields the client acts on.
type RoomUpdateMsg struct {
	Cmd              string          `json:"cmd"`
	CheckedLocations []int64         `json:"checked_locations,omitempty"`
	Players          []NetworkPlayer `json:"players,omitempty"`
}

// Bounce (client -> server) and Bounced (server -> client) share a shape.
type BounceMsg struct {
	Cmd   string          `json:"cmd"`
	Games []string        `json:"games,omitempty"`
	Slots []int           `json:"slots,omitempty"`
	Tags  []string        `json:"tags,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// DeathLinkData is the Bounce payload for the DeathLink tag.
type DeathLinkData struct {
	Time   float64 `json:"time"`
	Cause  string  `json:"cause,omitempty"`
	Source string  `json:"source"`
}

// Sync (client -> server) asks for the full received items list.
type SyncMsg struct {
	Cmd string `json:"cmd"`
}

type JSONMessagePart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// PrintJSON (server -> client)
type PrintJSONMsg struct {
	Cmd  string            `json:"cmd"`
	Type string            `json:"type,omitempty"`
	Data []JSONMessagePart `json:"data"`
}

// Text flattens the message parts.
func (m PrintJSONMsg) Text() string {
	s := ""
	for _, p := range m.Data {
		s += p.Text
	}
	return s
}

// HasTag reports whether tags contains t.
func HasTag(tags []string, t string) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}
