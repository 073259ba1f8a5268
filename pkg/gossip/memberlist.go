package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/memberlist"

	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Discovery advertises the local ring node as memberlist metadata and reports
// the ring nodes of every other live member.
type Discovery struct {
	list *memberlist.Memberlist
	conf *memberlist.Config
	self ring.Node

	mu    sync.RWMutex
	known map[string]ring.Node
}

// Ensure Discovery implements the memberlist hooks
var (
	_ memberlist.Delegate      = (*Discovery)(nil)
	_ memberlist.EventDelegate = (*Discovery)(nil)
)

// NewDiscovery starts a gossip member on bindAddr:bindPort carrying self.
func NewDiscovery(self ring.Node, bindAddr string, bindPort int) (*Discovery, error) {
	config := memberlist.DefaultLANConfig()
	config.Name = fmt.Sprintf("chord-%d-%s", self.ID, self.HostPort())
	config.BindAddr = bindAddr
	config.BindPort = bindPort
	config.AdvertisePort = bindPort

	// Disable logging for now
	config.LogOutput = io.Discard

	d := &Discovery{
		conf:  config,
		self:  self,
		known: make(map[string]ring.Node),
	}

	config.Events = d   // Handle join/leave events
	config.Delegate = d // Handle metadata exchange

	list, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	d.list = list

	return d, nil
}

// Join joins the cluster using seed nodes.
func (d *Discovery) Join(seeds []string) error {
	if len(seeds) > 0 {
		n, err := d.list.Join(seeds)
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		logger.Infow("Gossip joined", "contacted", n)
	}
	return nil
}

// Leave leaves the cluster.
func (d *Discovery) Leave() error {
	// gracefully leave
	if err := d.list.Leave(time.Second * 5); err != nil {
		return err
	}
	return d.list.Shutdown()
}

func (d *Discovery) Close() error {
	return d.Leave()
}

// Contacts returns the ring nodes advertised by other live members.
func (d *Discovery) Contacts(ctx context.Context) ([]ring.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes := make([]ring.Node, 0, len(d.known))
	for _, node := range d.known {
		if node.Same(d.self) {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// NodeMeta returns the local node metadata.
func (d *Discovery) NodeMeta(limit int) []byte {
	data, err := json.Marshal(d.self)
	if err != nil {
		logger.Warnw("failed to marshal gossip node meta", "error", err.Error())
		return nil
	}
	if len(data) > limit {
		logger.Warnw("gossip node meta exceeds limit", "size", len(data), "limit", limit)
		return nil
	}
	return data
}

// NotifyMsg, GetBroadcasts, LocalState, MergeRemoteState are not used here but required by Delegate
func (d *Discovery) NotifyMsg([]byte)                           {}
func (d *Discovery) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *Discovery) LocalState(join bool) []byte                { return nil }
func (d *Discovery) MergeRemoteState(buf []byte, join bool)     {}

// NotifyJoin is invoked when a node joins.
func (d *Discovery) NotifyJoin(node *memberlist.Node) {
	n, ok := decodeMeta(node.Meta)
	if !ok {
		logger.Debugw("Gossip member without ring metadata", "name", node.Name)
		return
	}
	d.mu.Lock()
	d.known[node.Name] = n
	d.mu.Unlock()
	logger.Infow("Ring member discovered", "name", node.Name, "node", n.String())
}

// NotifyLeave is invoked when a node leaves.
func (d *Discovery) NotifyLeave(node *memberlist.Node) {
	d.mu.Lock()
	delete(d.known, node.Name)
	d.mu.Unlock()
	logger.Infow("Ring member left gossip", "name", node.Name)
}

// NotifyUpdate is invoked when a node is updated.
func (d *Discovery) NotifyUpdate(node *memberlist.Node) {
	d.NotifyJoin(node)
}

func decodeMeta(meta []byte) (ring.Node, bool) {
	if len(meta) == 0 {
		return ring.Node{}, false
	}
	var n ring.Node
	if err := json.Unmarshal(meta, &n); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return ring.Node{}, false
	}
	if n.IsNull() || n.ID < 0 || n.ID >= ring.Size {
		return ring.Node{}, false
	}
	return n, true
}
