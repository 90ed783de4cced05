package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

var (
	// ErrInvalidEvent is returned for events missing fields their kind needs.
	ErrInvalidEvent = errors.New("invalid membership event")

	// ErrUnknownPeer is returned for events about a peer that never joined.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Kind identifies the change an Event carries.
type Kind uint8

const (
	// NodeJoin registers a peer without filters.
	NodeJoin Kind = iota + 1

	// NodeLeave removes a peer and everything held for it.
	NodeLeave

	// FilterSet installs or replaces a whole filter.
	FilterSet

	// FilterUpdate applies sparse bit codes to an installed filter.
	FilterUpdate

	// FilterDelete removes a filter.
	FilterDelete

	// PatternAdd inserts or replaces a wildcard pattern.
	PatternAdd

	// PatternDelete removes a wildcard pattern by ID.
	PatternDelete

	// RouteAll toggles the route-all override.
	RouteAll
)

var kindNames = map[Kind]string{
	NodeJoin:      "node-join",
	NodeLeave:     "node-leave",
	FilterSet:     "filter-set",
	FilterUpdate:  "filter-update",
	FilterDelete:  "filter-delete",
	PatternAdd:    "pattern-add",
	PatternDelete: "pattern-delete",
	RouteAll:      "route-all",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one change to a remote node's routing state.
type Event struct {
	Kind   Kind
	PeerID string

	// Wildcard selects the wildcard filter for the filter kinds.
	Wildcard bool

	// Hash and Filter are set for FilterSet.
	Hash   hashing.Config
	Filter []byte

	// Codes are set for FilterUpdate: n > 0 sets bit n-1, n < 0 clears
	// bit |n|-1.
	Codes []int32

	// Pattern is set for PatternAdd. PatternDelete only uses Pattern.ID.
	Pattern routingtable.Pattern

	// Enabled is the new route-all state for RouteAll.
	Enabled bool
}

// Validate checks that e carries what its kind requires.
func (e Event) Validate() error {
	if e.PeerID == "" {
		return fmt.Errorf("%w: empty peer ID", ErrInvalidEvent)
	}
	switch e.Kind {
	case NodeJoin, NodeLeave, FilterDelete, PatternDelete, RouteAll:
	case FilterSet:
		if len(e.Filter) == 0 {
			return fmt.Errorf("%w: %s without filter", ErrInvalidEvent, e.Kind)
		}
		if err := e.Hash.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	case FilterUpdate:
		if len(e.Codes) == 0 {
			return fmt.Errorf("%w: %s without codes", ErrInvalidEvent, e.Kind)
		}
	case PatternAdd:
		if err := e.Pattern.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// Handler applies membership events, typically to a routing table.
type Handler interface {
	Apply(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Apply calls f(ctx, ev).
func (f HandlerFunc) Apply(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
