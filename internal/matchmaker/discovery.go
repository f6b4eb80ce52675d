package matchmaker

import (
	"context"
	"fmt"
	"strings"

	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

const (
	nodesSetKey           = "colyseus:nodes"
	nodesDiscoveryChannel = "colyseus:nodes:discovery"
)

// Node identifies one server process for the cluster-wide node set.
type Node struct {
	ProcessID string
	Host      string
	Port      int
}

// FormatAddress renders a node the way it is stored in the discovery
// set and broadcast on the discovery channel: "<processId>/<host>:<port>",
// with a bare IPv6 host bracketed.
func FormatAddress(n Node) string {
	host := n.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s/%s:%d", n.ProcessID, host, n.Port)
}

// RegisterNode adds n to the cluster-wide node set and broadcasts its
// arrival on the discovery channel.
func RegisterNode(ctx context.Context, pres presence.Presence, n Node) error {
	addr := FormatAddress(n)
	if err := pres.SAdd(ctx, nodesSetKey, addr); err != nil {
		return fmt.Errorf("matchmaker: register node: %w", err)
	}
	return pres.Publish(ctx, nodesDiscoveryChannel, "add,"+addr)
}

// UnregisterNode removes n from the cluster-wide node set and
// broadcasts its departure. Called during graceful shutdown.
func UnregisterNode(ctx context.Context, pres presence.Presence, n Node) error {
	addr := FormatAddress(n)
	if err := pres.SRem(ctx, nodesSetKey, addr); err != nil {
		return fmt.Errorf("matchmaker: unregister node: %w", err)
	}
	return pres.Publish(ctx, nodesDiscoveryChannel, "remove,"+addr)
}

// ListNodes returns every address currently in the cluster-wide node
// set, in no particular order.
func ListNodes(ctx context.Context, pres presence.Presence) ([]string, error) {
	return pres.SMembers(ctx, nodesSetKey)
}

// SubscribeDiscovery watches the discovery channel, invoking onChange
// with (added, address) for each broadcast. Messages that don't match
// the "add,<addr>" / "remove,<addr>" format are dropped.
func SubscribeDiscovery(ctx context.Context, pres presence.Presence, onChange func(added bool, address string)) (presence.Subscription, error) {
	return pres.Subscribe(ctx, nodesDiscoveryChannel, func(payload string) {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) != 2 {
			return
		}
		switch parts[0] {
		case "add":
			onChange(true, parts[1])
		case "remove":
			onChange(false, parts[1])
		}
	})
}
