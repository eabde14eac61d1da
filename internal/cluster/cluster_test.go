package cluster

import (
	"testing"

	"github.com/marmos91/galaxycache/internal/coherence"
)

func newTestCluster(self coherence.NodeID, members map[coherence.NodeID]*member) *Cluster {
	return &Cluster{
		self:    self,
		members: members,
	}
}

func TestCluster_IsMasterReflectsOwnRow(t *testing.T) {
	c := newTestCluster(1, map[coherence.NodeID]*member{
		1: {isMaster: true, live: true},
	})
	if !c.IsMaster() {
		t.Fatal("IsMaster() = false, want true")
	}
}

func TestCluster_IsMasterFalseForSlave(t *testing.T) {
	c := newTestCluster(2, map[coherence.NodeID]*member{
		2: {isMaster: false, pairedWith: 1, live: true},
	})
	if c.IsMaster() {
		t.Fatal("IsMaster() = true, want false")
	}
}

func TestCluster_IsMasterFalseWhenUnknown(t *testing.T) {
	c := newTestCluster(99, map[coherence.NodeID]*member{})
	if c.IsMaster() {
		t.Fatal("IsMaster() = true for an unknown node, want false")
	}
}

func TestCluster_MasterReturnsSelfWhenMaster(t *testing.T) {
	c := newTestCluster(1, map[coherence.NodeID]*member{
		1: {isMaster: true, live: true},
	})
	if got := c.Master(1); got != 1 {
		t.Errorf("Master(1) = %v, want 1", got)
	}
}

func TestCluster_MasterReturnsPairedMasterForSlave(t *testing.T) {
	c := newTestCluster(1, map[coherence.NodeID]*member{
		1: {isMaster: true, live: true},
		2: {isMaster: false, pairedWith: 1, live: true},
	})
	if got := c.Master(2); got != 1 {
		t.Errorf("Master(2) = %v, want 1", got)
	}
}

func TestCluster_MasterReturnsUnknownForUnknownNode(t *testing.T) {
	c := newTestCluster(1, map[coherence.NodeID]*member{})
	if got := c.Master(42); got != coherence.UnknownNode {
		t.Errorf("Master(42) = %v, want UnknownNode", got)
	}
}

func TestCluster_MyNodeIDReturnsSelf(t *testing.T) {
	c := newTestCluster(7, map[coherence.NodeID]*member{})
	if got := c.MyNodeID(); got != 7 {
		t.Errorf("MyNodeID() = %v, want 7", got)
	}
}
