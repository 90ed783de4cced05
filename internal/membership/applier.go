package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// Applier applies membership events to a routing table, translating peer IDs
// into node handles through a Registry.
type Applier struct {
	table    routingtable.RoutingTable
	registry *Registry
	logger   *slog.Logger
}

var _ membership.Handler = (*Applier)(nil)

// NewApplier creates an Applier. A nil logger uses slog.Default.
func NewApplier(table routingtable.RoutingTable, registry *Registry, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		table:    table,
		registry: registry,
		logger:   logger.With("component", "membership"),
	}
}

// Apply validates ev and applies it. FilterSet, NodeJoin and RouteAll
// register unknown peers; every other kind requires a known peer.
func (a *Applier) Apply(ctx context.Context, ev membership.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	err := a.apply(ev)
	if err != nil {
		a.logger.Warn("membership event failed",
			"kind", ev.Kind.String(), "peer", ev.PeerID, "error", err)
		return err
	}
	a.logger.Debug("membership event applied", "kind", ev.Kind.String(), "peer", ev.PeerID)
	return nil
}

func (a *Applier) apply(ev membership.Event) error {
	switch ev.Kind {
	case membership.NodeJoin:
		return a.withAssigned(ev.PeerID, a.table.AddNode)
	case membership.FilterSet:
		return a.withAssigned(ev.PeerID, func(h routingtable.NodeHandle) error {
			return a.table.AddFilter(h, ev.Filter, ev.Hash, ev.Wildcard)
		})
	case membership.RouteAll:
		return a.withAssigned(ev.PeerID, func(h routingtable.NodeHandle) error {
			return a.table.SetRouteAll(h, ev.Enabled)
		})
	case membership.NodeLeave:
		h, ok := a.registry.Lookup(ev.PeerID)
		if !ok {
			return fmt.Errorf("%w: %s", membership.ErrUnknownPeer, ev.PeerID)
		}
		// The table clears its record even when a sub-delete fails, so the
		// index is released either way.
		err := a.table.DeleteNode(h)
		a.registry.Release(ev.PeerID)
		if errors.Is(err, routingtable.ErrNotFound) {
			return nil
		}
		return err
	}

	h, ok := a.registry.Lookup(ev.PeerID)
	if !ok {
		return fmt.Errorf("%w: %s", membership.ErrUnknownPeer, ev.PeerID)
	}
	switch ev.Kind {
	case membership.FilterUpdate:
		return a.table.UpdateFilter(h, ev.Wildcard, ev.Codes)
	case membership.FilterDelete:
		return a.table.DeleteFilter(h, ev.Wildcard)
	case membership.PatternAdd:
		return a.table.AddPattern(h, ev.Pattern)
	case membership.PatternDelete:
		return a.table.DeletePattern(h, ev.Pattern.ID)
	default:
		return fmt.Errorf("%w: unknown kind %d", membership.ErrInvalidEvent, ev.Kind)
	}
}

// withAssigned runs fn with the peer's handle, allocating one if needed. A
// freshly allocated index is released again when fn fails.
func (a *Applier) withAssigned(peerID string, fn func(routingtable.NodeHandle) error) error {
	h, created, err := a.registry.Assign(peerID)
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		if created {
			a.registry.Release(peerID)
		}
		return err
	}
	return nil
}
