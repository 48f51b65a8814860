package entry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the entry variants on the wire and in dispatch.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindNavigation Kind = "navigation"
	KindDatabase   Kind = "database"
	KindPlain      Kind = "plain"
)

// Entry is one structured record of an observed event. The set of
// implementations is closed: Network, Navigation, Database, Plain.
type Entry interface {
	Kind() Kind

	// ID is the unique identifier attached at creation. The remote
	// collector de-duplicates resent batches by this value.
	ID() string

	// CreatedAt is the time the entry was created by its producer.
	CreatedAt() time.Time

	// Validate reports whether the variant's required fields are present.
	Validate() error

	sealed()
}

// Meta carries the identity fields shared by every entry variant.
type Meta struct {
	EntryID string    `json:"id"`
	Created time.Time `json:"timestamp"`
}

func newMeta() Meta {
	return Meta{EntryID: uuid.NewString(), Created: time.Now().UTC()}
}

func (m Meta) ID() string           { return m.EntryID }
func (m Meta) CreatedAt() time.Time { return m.Created }
func (Meta) sealed()                {}

// Network records one HTTP request/response pair observed by the host
// application's request interceptor. StatusCode 0 and zero ReceivedAt mean
// no response was observed.
type Network struct {
	Meta
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	SentAt          time.Time         `json:"sent_at,omitempty"`
	StatusCode      int               `json:"status_code,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ReceivedAt      time.Time         `json:"received_at,omitempty"`
}

// NewNetwork creates a network entry with a fresh ID and timestamp.
// Remaining fields are set directly by the caller before Submit.
func NewNetwork(method, url string) *Network {
	return &Network{Meta: newMeta(), Method: method, URL: url}
}

func (*Network) Kind() Kind { return KindNetwork }

func (n *Network) Validate() error {
	if n.Method == "" {
		return fmt.Errorf("network entry: method is required")
	}
	if n.URL == "" {
		return fmt.Errorf("network entry: url is required")
	}
	return nil
}

// Duration returns the observed request round-trip time, or false when
// either endpoint timestamp is missing.
func (n *Network) Duration() (time.Duration, bool) {
	if n.SentAt.IsZero() || n.ReceivedAt.IsZero() {
		return 0, false
	}
	return n.ReceivedAt.Sub(n.SentAt), true
}

// Navigation records a route change observed by the navigation hook.
type Navigation struct {
	Meta
	Action            string `json:"action"`
	RouteName         string `json:"route_name,omitempty"`
	Arguments         string `json:"arguments,omitempty"`
	PreviousRoute     string `json:"previous_route,omitempty"`
	PreviousArguments string `json:"previous_arguments,omitempty"`
}

// NewNavigation creates a navigation entry with a fresh ID and timestamp.
func NewNavigation(action, routeName string) *Navigation {
	return &Navigation{Meta: newMeta(), Action: action, RouteName: routeName}
}

func (*Navigation) Kind() Kind { return KindNavigation }

func (n *Navigation) Validate() error {
	if n.Action == "" {
		return fmt.Errorf("navigation entry: action is required")
	}
	return nil
}

// Database records a storage read or write performed by the host application.
type Database struct {
	Meta
	Target string `json:"target"`
	Value  string `json:"value,omitempty"`
	Source string `json:"source,omitempty"`
}

// NewDatabase creates a database entry with a fresh ID and timestamp.
func NewDatabase(target, value, source string) *Database {
	return &Database{Meta: newMeta(), Target: target, Value: value, Source: source}
}

func (*Database) Kind() Kind { return KindDatabase }

func (d *Database) Validate() error {
	if d.Target == "" {
		return fmt.Errorf("database entry: target is required")
	}
	return nil
}

// Plain records a free-text message from manual logging calls.
type Plain struct {
	Meta
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// NewPlain creates a plain entry with a fresh ID and timestamp.
func NewPlain(message, source string) *Plain {
	return &Plain{Meta: newMeta(), Message: message, Source: source}
}

func (*Plain) Kind() Kind { return KindPlain }

func (p *Plain) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("plain entry: message is required")
	}
	return nil
}
