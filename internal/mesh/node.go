package mesh

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

const (
	defaultDiscoveryInterval = 30 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultQueryTimeout      = 5 * time.Second

	// Peers silent for longer than this are pruned along with their
	// advertised resources.
	stalePeerAfter = 2 * time.Minute
)

var meshUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn is the subset of the websocket connection the node uses. Tests
// substitute an in-memory implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handler processes one inbound envelope. The connection it arrived on is
// provided for direct replies and may be nil.
type Handler func(env models.Envelope, conn wsConn)

type peer struct {
	info   models.PeerInfo
	conn   wsConn
	sendMu sync.Mutex
}

type pendingQuery struct {
	responses chan map[string]models.MeshResource
}

// Node is one participant in the mesh. It serves inbound websocket links,
// dials bootstrap peers, keeps the peer table and the resource directory and
// routes envelopes to subscribed handlers. A node never processes envelopes
// it sent itself.
type Node struct {
	ID       string
	nodeType string
	host     string
	port     int

	Directory *Directory

	mu        sync.Mutex
	peers     map[string]*peer
	handlers  map[string][]Handler
	pending   map[string]*pendingQuery
	bootstrap []string

	discoveryInterval time.Duration
	heartbeatInterval time.Duration

	server *http.Server
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// NodeOption adjusts a Node at construction.
type NodeOption func(*Node)

// WithNodeID fixes the node identity instead of generating one.
func WithNodeID(id string) NodeOption { return func(n *Node) { n.ID = id } }

// WithNodeType sets the declared node type announced in discovery.
func WithNodeType(t string) NodeOption { return func(n *Node) { n.nodeType = t } }

// WithBootstrapPeers sets addresses dialled on start and retried on each
// discovery tick.
func WithBootstrapPeers(addrs ...string) NodeOption {
	return func(n *Node) { n.bootstrap = append([]string(nil), addrs...) }
}

// WithMeshIntervals overrides the discovery and heartbeat cadences.
func WithMeshIntervals(discovery, heartbeat time.Duration) NodeOption {
	return func(n *Node) {
		n.discoveryInterval = discovery
		n.heartbeatInterval = heartbeat
	}
}

// NewNode creates a mesh node listening on host:port.
func NewNode(host string, port int, opts ...NodeOption) *Node {
	n := &Node{
		ID:                uuid.New().String(),
		nodeType:          "full",
		host:              host,
		port:              port,
		peers:             make(map[string]*peer),
		handlers:          make(map[string][]Handler),
		pending:           make(map[string]*pendingQuery),
		discoveryInterval: defaultDiscoveryInterval,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	for _, o := range opts {
		o(n)
	}
	n.Directory = NewDirectory(n.ID)
	n.log = logrus.WithField("component", "mesh").WithField("node_id", shortNodeID(n.ID))
	return n
}

func shortNodeID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Address returns the websocket address peers use to reach this node.
func (n *Node) Address() string {
	return fmt.Sprintf("ws://%s:%d", n.host, n.port)
}

// Subscribe registers a handler for one message type.
func (n *Node) Subscribe(msgType string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[msgType] = append(n.handlers[msgType], h)
}

// Start serves inbound links and launches the discovery and heartbeat
// workers. It returns once the listener is up; cancelling the context shuts
// the node down.
func (n *Node) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", n.serveWS)
	n.server = &http.Server{Addr: fmt.Sprintf("%s:%d", n.host, n.port), Handler: mux}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Errorf("Mesh server error: %v", err)
		}
	}()

	n.wg.Add(2)
	go n.runDiscovery(ctx)
	go n.runHeartbeat(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.server.Shutdown(shutdownCtx)
		n.closeAllPeers()
	}()

	n.log.Infof("Mesh node started at %s", n.Address())
	for _, addr := range n.bootstrap {
		if err := n.ConnectToPeer(ctx, addr); err != nil {
			n.log.Warnf("Bootstrap connect to %s failed: %v", addr, err)
		}
	}
	return nil
}

// Wait blocks until all node workers have exited.
func (n *Node) Wait() {
	n.wg.Wait()
	n.log.Info("Mesh node stopped")
}

func (n *Node) closeAllPeers() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, p := range n.peers {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		delete(n.peers, id)
	}
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := meshUpgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Errorf("Failed to upgrade mesh connection: %v", err)
		return
	}
	n.wg.Add(1)
	go n.readLoop(conn)
}

// ConnectToPeer dials a peer address and sends the initial discovery
// envelope. Already-known addresses are dialled again only if their link
// dropped.
func (n *Node) ConnectToPeer(ctx context.Context, address string) error {
	if n.hasPeerAt(address) {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("%w: dial peer %s: %v", models.ErrConnection, address, err)
	}

	env := NewEnvelope(models.MsgDiscovery, n.ID, map[string]interface{}{
		"node_type": n.nodeType,
		"address":   n.Address(),
		"resources": n.Directory.LocalIDs(),
	})
	if err := n.sendOn(conn, env); err != nil {
		_ = conn.Close()
		return err
	}

	n.wg.Add(1)
	go n.readLoop(conn)
	n.log.Infof("Connected to peer at %s", address)
	return nil
}

func (n *Node) hasPeerAt(address string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		if p.info.Address == address && p.conn != nil {
			return true
		}
	}
	return false
}

func (n *Node) readLoop(conn wsConn) {
	defer n.wg.Done()
	defer func() { _ = conn.Close() }()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			n.dropConn(conn)
			return
		}
		env, err := DecodeEnvelope(raw)
		if err != nil {
			n.log.Warnf("Discarding malformed envelope: %v", err)
			continue
		}
		n.HandleEnvelope(env, conn)
	}
}

// dropConn removes whichever peer owns the connection together with its
// advertised resources.
func (n *Node) dropConn(conn wsConn) {
	n.mu.Lock()
	var gone string
	for id, p := range n.peers {
		if p.conn == conn {
			gone = id
			delete(n.peers, id)
			break
		}
	}
	n.mu.Unlock()

	if gone != "" {
		removed := n.Directory.RemovePeerResources(gone)
		n.log.Infof("Peer %s disconnected, dropped %d resources", gone, removed)
	}
}

// RemovePeer closes the link to a peer and forgets its resources.
func (n *Node) RemovePeer(peerID string) {
	n.mu.Lock()
	p, ok := n.peers[peerID]
	if ok {
		delete(n.peers, peerID)
	}
	n.mu.Unlock()

	if !ok {
		return
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	n.Directory.RemovePeerResources(peerID)
	n.log.Infof("Removed peer %s", peerID)
}

// Peers returns a snapshot of the peer table.
func (n *Node) Peers() []models.PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]models.PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p.info)
	}
	return out
}

// HandleEnvelope routes one inbound envelope. Envelopes sent by this node
// are ignored.
func (n *Node) HandleEnvelope(env models.Envelope, conn wsConn) {
	if env.SenderID == n.ID {
		return
	}

	switch env.Type {
	case models.MsgDiscovery:
		n.handleDiscovery(env, conn, true)
	case models.MsgDiscoveryResponse:
		n.handleDiscovery(env, conn, false)
	case models.MsgResourceAnnouncement:
		n.handleResourceAnnouncement(env)
	case models.MsgResourceQuery:
		n.handleResourceQuery(env, conn)
	case models.MsgResourceQueryResp:
		n.handleQueryResponse(env)
	case models.MsgHeartbeat:
		n.touchPeer(env.SenderID)
	}

	n.mu.Lock()
	handlers := append([]Handler(nil), n.handlers[env.Type]...)
	n.mu.Unlock()
	for _, h := range handlers {
		h(env, conn)
	}
}

// handleDiscovery upserts the sender in the peer table and, for initial
// discovery, replies with this node's own view.
func (n *Node) handleDiscovery(env models.Envelope, conn wsConn, reply bool) {
	var resources []string
	_ = decodeData(env.Data["resources"], &resources)

	n.mu.Lock()
	p, ok := n.peers[env.SenderID]
	if !ok {
		p = &peer{}
		n.peers[env.SenderID] = p
	}
	if conn != nil {
		p.conn = conn
	}
	p.info = models.PeerInfo{
		PeerID:    env.SenderID,
		Address:   dataString(env.Data, "address"),
		NodeType:  dataString(env.Data, "node_type"),
		Resources: resources,
		LastSeen:  time.Now().UTC(),
	}
	n.mu.Unlock()

	n.log.Infof("Discovered peer %s at %s", env.SenderID, dataString(env.Data, "address"))

	if reply && conn != nil {
		resp := NewEnvelope(models.MsgDiscoveryResponse, n.ID, map[string]interface{}{
			"node_type": n.nodeType,
			"address":   n.Address(),
			"resources": n.Directory.LocalIDs(),
		})
		if err := n.sendOn(conn, resp); err != nil {
			n.log.Warnf("Discovery response to %s failed: %v", env.SenderID, err)
		}
	}
}

func (n *Node) handleResourceAnnouncement(env models.Envelope) {
	resourceID := dataString(env.Data, "resource_id")
	if resourceID == "" {
		return
	}
	metadata, _ := env.Data["metadata"].(map[string]interface{})
	n.Directory.AddRemote(resourceID, dataString(env.Data, "resource_type"), metadata, env.SenderID)
	n.touchPeer(env.SenderID)
}

func (n *Node) handleResourceQuery(env models.Envelope, conn wsConn) {
	if conn == nil {
		return
	}
	var q struct {
		Type   string                 `json:"type"`
		Filter map[string]interface{} `json:"filter"`
	}
	_ = decodeData(env.Data["query"], &q)

	results := n.Directory.Query(q.Type, q.Filter, true, false)
	resp := NewEnvelope(models.MsgResourceQueryResp, n.ID, map[string]interface{}{
		"query_id": dataString(env.Data, "query_id"),
		"results":  results,
	})
	if err := n.sendOn(conn, resp); err != nil {
		n.log.Warnf("Query response to %s failed: %v", env.SenderID, err)
	}
}

func (n *Node) handleQueryResponse(env models.Envelope) {
	queryID := dataString(env.Data, "query_id")

	n.mu.Lock()
	pq, ok := n.pending[queryID]
	n.mu.Unlock()
	if !ok {
		return
	}

	var results map[string]models.MeshResource
	if err := decodeData(env.Data["results"], &results); err != nil {
		n.log.Warnf("Malformed query response from %s: %v", env.SenderID, err)
		return
	}
	for id, r := range results {
		r.PeerID = env.SenderID
		r.Location = "remote"
		results[id] = r
	}
	select {
	case pq.responses <- results:
	default:
	}
}

func (n *Node) touchPeer(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[peerID]; ok {
		p.info.LastSeen = time.Now().UTC()
	}
}

// RegisterResource adds a local resource and announces it to all peers.
func (n *Node) RegisterResource(resourceID, resourceType string, metadata map[string]interface{}) {
	n.Directory.AddLocal(resourceID, resourceType, metadata)
	n.Broadcast(NewEnvelope(models.MsgResourceAnnouncement, n.ID, map[string]interface{}{
		"resource_id":   resourceID,
		"resource_type": resourceType,
		"metadata":      metadata,
	}))
}

// RegisterAgentResource registers an agent as a mesh resource with its
// hardware constraints clamped to the mesh ceilings.
func (n *Node) RegisterAgentResource(agentID string, metadata map[string]interface{}) map[string]interface{} {
	capped := CapAgentConstraints(n.log, metadata)
	n.RegisterResource(agentID, "agent", capped)
	return capped
}

// Broadcast sends an envelope to every connected peer.
func (n *Node) Broadcast(env models.Envelope) {
	n.mu.Lock()
	conns := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p.conn != nil {
			conns = append(conns, p)
		}
	}
	n.mu.Unlock()

	for _, p := range conns {
		if err := n.send(p, env); err != nil {
			n.log.Warnf("Broadcast %s to %s failed: %v", env.Type, p.info.PeerID, err)
		}
	}
}

func (n *Node) send(p *peer, env models.Envelope) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return n.sendOn(p.conn, env)
}

func (n *Node) sendOn(conn wsConn, env models.Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: send %s: %v", models.ErrConnection, env.Type, err)
	}
	return nil
}

// QueryResources answers from the local directory immediately and, unless
// localOnly is set, broadcasts the query and merges peer responses until the
// timeout. Local matches win id collisions.
func (n *Node) QueryResources(ctx context.Context, resourceType string, metadataFilter map[string]interface{}, localOnly bool, timeout time.Duration) map[string]models.MeshResource {
	results := n.Directory.Query(resourceType, metadataFilter, true, true)
	if localOnly {
		return results
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	queryID := uuid.New().String()
	pq := &pendingQuery{responses: make(chan map[string]models.MeshResource, 16)}
	n.mu.Lock()
	n.pending[queryID] = pq
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, queryID)
		n.mu.Unlock()
	}()

	n.Broadcast(NewEnvelope(models.MsgResourceQuery, n.ID, map[string]interface{}{
		"query_id": queryID,
		"query": map[string]interface{}{
			"type":   resourceType,
			"filter": metadataFilter,
		},
	}))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return results
		case <-deadline.C:
			return results
		case remote := <-pq.responses:
			for id, r := range remote {
				if _, ok := results[id]; !ok || results[id].Location != "local" {
					results[id] = r
				}
			}
		}
	}
}

func (n *Node) runDiscovery(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range n.bootstrap {
				if err := n.ConnectToPeer(ctx, addr); err != nil {
					n.log.Debugf("Bootstrap retry to %s failed: %v", addr, err)
				}
			}
		}
	}
}

func (n *Node) runHeartbeat(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Broadcast(NewEnvelope(models.MsgHeartbeat, n.ID, nil))
			n.pruneStalePeers()
		}
	}
}

func (n *Node) pruneStalePeers() {
	cutoff := time.Now().UTC().Add(-stalePeerAfter)

	n.mu.Lock()
	var stale []string
	for id, p := range n.peers {
		if p.info.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	n.mu.Unlock()

	for _, id := range stale {
		n.log.Infof("Pruning stale peer %s", id)
		n.RemovePeer(id)
	}
}
