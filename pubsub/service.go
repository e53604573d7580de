// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"hash/fnv"
	"log"
	"os"
	"sync"
	"time"

	"github.com/stefanop/openfire/jid"
)

type options struct {
	collectionNodes bool
	instantNodes    bool
	batchPeriod     time.Duration
	batchSize       int
	logger          *log.Logger
	clock           func() time.Time
	rootID          string
	commands        CommandForwarder
}

// Option configures a Service constructed with New.
type Option func(*options)

// CollectionNodes enables or disables support for Collection nodes,
// including the service-wide root collection. Disabled by default.
func CollectionNodes(enabled bool) Option {
	return func(o *options) { o.collectionNodes = enabled }
}

// InstantNodes enables or disables node creation requests that omit the
// node attribute, in which case the service generates a random id.
func InstantNodes(enabled bool) Option {
	return func(o *options) { o.instantNodes = enabled }
}

// BatchPeriod sets the persistence batcher's flush interval.
func BatchPeriod(d time.Duration) Option {
	return func(o *options) { o.batchPeriod = d }
}

// BatchSize sets the persistence batcher's per-flush item cap.
func BatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// Logger overrides the service's diagnostic logger, which otherwise writes
// to os.Stderr.
func Logger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Clock overrides the function used to timestamp published items, mainly
// for tests.
func Clock(f func() time.Time) Option {
	return func(o *options) { o.clock = f }
}

// RootNodeID overrides the node id of the service's root collection.
// Defaults to "".
func RootNodeID(id string) Option {
	return func(o *options) { o.rootID = id }
}

// Forwarder sets the collaborator that ad-hoc command stanzas (C8) are
// handed off to.
func Forwarder(f CommandForwarder) Option {
	return func(o *options) { o.commands = f }
}

const stripeCount = 64

// Service is a process-wide PubSub engine addressed by a single JID. It
// holds the node table, the root collection, default node configurations,
// and handles to its collaborators, and is the entry point for all inbound
// traffic via ProcessIQ, ProcessPresence, and ProcessMessage.
type Service struct {
	Addr     jid.JID
	Router   Router
	Backend  Backend
	Users    Users
	Commands CommandForwarder

	collectionNodes bool
	instantNodes    bool
	log             *log.Logger
	clock           func() time.Time

	nodesMu sync.RWMutex
	nodes   map[string]*Node
	stripes [stripeCount]sync.Mutex

	root *Node

	defaultLeaf       nodeConfig
	defaultCollection nodeConfig

	presence *presenceTracker
	batcher  *Batcher

	mux *dispatcher
}

// New constructs a Service. router, backend, and users are required
// collaborators; see the Router, Backend, and Users interfaces.
func New(addr jid.JID, router Router, backend Backend, users Users, opt ...Option) *Service {
	o := options{
		batchPeriod: 120 * time.Second,
		batchSize:   50,
		logger:      log.New(os.Stderr, "pubsub: ", log.LstdFlags),
		clock:       time.Now,
	}
	for _, f := range opt {
		f(&o)
	}

	svc := &Service{
		Addr:              addr,
		Router:            router,
		Backend:           backend,
		Users:             users,
		Commands:          o.commands,
		collectionNodes:   o.collectionNodes,
		instantNodes:      o.instantNodes,
		log:               o.logger,
		clock:             o.clock,
		nodes:             make(map[string]*Node),
		defaultLeaf:       defaultLeafConfig(),
		defaultCollection: defaultCollectionConfig(),
		presence:          newPresenceTracker(),
		batcher:           NewBatcher(backend, o.batchPeriod, o.batchSize),
	}
	svc.mux = newDispatcher(svc)

	restoredRoot := svc.loadPersistedNodes(o.rootID)

	if o.collectionNodes && !restoredRoot {
		root := newNode(svc, o.rootID, Collection, nil, addr, svc.defaultCollection)
		root.affiliates[addr.Bare().String()] = &NodeAffiliate{Bare: addr.Bare(), Affiliation: AffiliationOwner}
		svc.root = root
		svc.nodes[o.rootID] = root
	}

	return svc
}

// loadPersistedNodes rebuilds the in-memory node forest from the backend's
// durable snapshots, restoring parent/child links, affiliates,
// subscriptions, and items (§6's loadNodes() persistence contract). It
// reports whether the service's root collection was among the restored
// nodes, so New knows not to create a fresh, empty one over it.
func (s *Service) loadPersistedNodes(rootID string) bool {
	snaps, err := s.Backend.LoadNodes()
	if err != nil {
		s.log.Printf("load nodes: %v", err)
		return false
	}
	restoredRoot := false
	for _, snap := range snaps {
		n := nodeFromSnapshot(s, snap)
		s.nodes[n.id] = n
		if n.id == rootID && n.kind == Collection {
			s.root = n
			restoredRoot = true
		}
	}
	for _, snap := range snaps {
		if snap.ParentID == "" {
			continue
		}
		child, ok := s.nodes[snap.ID]
		parent, ok2 := s.nodes[snap.ParentID]
		if !ok || !ok2 {
			continue
		}
		child.parent = parent
		parent.addChild(child)
	}
	return restoredRoot
}

func stripeFor(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % stripeCount)
}

// lookupNode returns the node with the given id, if any.
func (s *Service) lookupNode(id string) (*Node, bool) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// allNodes returns a snapshot of every node in the table.
func (s *Service) allNodes() []*Node {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

// insertNode attempts to add n under its own id, serialized per-id via a
// striped lock so that concurrent create requests for the same id produce
// exactly one winner. ok is false if the id was already taken.
func (s *Service) insertNode(n *Node) (ok bool) {
	stripe := &s.stripes[stripeFor(n.id)]
	stripe.Lock()
	defer stripe.Unlock()

	s.nodesMu.RLock()
	_, exists := s.nodes[n.id]
	s.nodesMu.RUnlock()
	if exists {
		return false
	}

	s.nodesMu.Lock()
	s.nodes[n.id] = n
	s.nodesMu.Unlock()
	return true
}

// removeNode deletes a node from the table, used by node delete.
func (s *Service) removeNode(n *Node) {
	s.nodesMu.Lock()
	delete(s.nodes, n.id)
	s.nodesMu.Unlock()
}

// isAdmin reports whether bare is a service administrator.
func (s *Service) isAdmin(bare jid.JID) bool {
	return s.Users != nil && s.Users.IsAdmin(bare)
}

// isRegistered reports whether bare is a known local account.
func (s *Service) isRegistered(bare jid.JID) bool {
	return s.Users != nil && s.Users.IsRegistered(bare)
}

// canCreateNode reports whether requester is allowed to create new nodes at
// all. Any registered user may; anonymous or unregistered JIDs may not.
func (s *Service) canCreateNode(requester jid.JID) bool {
	return s.isAdmin(requester) || s.isRegistered(requester)
}

// Start begins the persistence batcher and, per §4.7, probes presence for
// every distinct bare JID among each node's presence-gated subscribers.
func (s *Service) Start() {
	s.batcher.Start()
	for _, n := range s.allNodes() {
		probed := make(map[string]bool)
		for _, sub := range n.allSubscriptions() {
			if sub.State != SubSubscribed {
				continue
			}
			if n.cfg.accessModel != AccessPresence && sub.Options.shows == nil {
				continue
			}
			bare := sub.Subscriber.Bare().String()
			if probed[bare] {
				continue
			}
			probed[bare] = true
			s.Router.Route(probePresence(s.Addr, sub.Subscriber.Bare()))
		}
	}
}

// Shutdown stops the persistence batcher, draining its queues synchronously.
func (s *Service) Shutdown() {
	s.batcher.Shutdown()
}
