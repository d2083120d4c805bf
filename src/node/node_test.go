package node

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/crypto/keys"
	"github.com/kmn/catapult-server/src/net"
	"github.com/kmn/catapult-server/src/peers"
	"github.com/kmn/catapult-server/src/scheduler"
	"github.com/kmn/catapult-server/src/storage"
	chainsync "github.com/kmn/catapult-server/src/sync"
)

// testCluster is a set of nodes over in-memory transports and a shared
// virtual clock. Tests drive harvesting and synchronization explicitly, so
// the scheduled tasks are pushed far into the future.
type testCluster struct {
	nodes  []*Node
	trans  []*net.InmemTransport
	addrs  []string
	clock  *scheduler.VirtualClock
	keyset []*ecdsa.PrivateKey
}

func newTestCluster(t *testing.T, n int) *testCluster {
	cluster := &testCluster{
		clock: scheduler.NewVirtualClock(time.Unix(0, 0)),
	}

	peerSlice := []*peers.Peer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		cluster.keyset = append(cluster.keyset, key)

		addr, trans := net.NewInmemTransport("")
		cluster.addrs = append(cluster.addrs, addr)
		cluster.trans = append(cluster.trans, trans)

		peerSlice = append(peerSlice, peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), addr, ""))
	}

	for i := 0; i < n; i++ {
		conf := NewTestConfig(t)
		conf.VerifiableState = true
		conf.VerifyHits = true
		// tests drive the rounds themselves
		conf.HarvestStartDelay = 1000 * time.Hour
		conf.SyncStartDelay = 1000 * time.Hour
		conf.ConnectStartDelay = 1000 * time.Hour

		node := NewNode(conf, cluster.keyset[i], peers.NewPeerSet(peerSlice), storage.NewInmemStore(), cluster.trans[i], cluster.clock)
		if err := node.Init(); err != nil {
			t.Fatal(err)
		}
		node.RunAsync()

		cluster.nodes = append(cluster.nodes, node)
	}

	return cluster
}

func (c *testCluster) shutdown() {
	for _, n := range c.nodes {
		n.Shutdown()
	}
}

// connectAll wires every node to every other node, in both directions.
func (c *testCluster) connectAll() {
	for i := range c.trans {
		for j := range c.trans {
			if i != j {
				c.trans[i].Connect(c.addrs[j], c.trans[j])
			}
		}
	}
}

// connectRing wires node i to node (i+1) mod n only.
func (c *testCluster) connectRing() {
	n := len(c.trans)
	for i := range c.trans {
		j := (i + 1) % n
		c.trans[i].Connect(c.addrs[j], c.trans[j])
	}
}

// harvestTo drives one node's harvesting, with the shared clock advancing one
// second per attempt, until the node's chain reaches the target height.
func (c *testCluster) harvestTo(t *testing.T, i int, target uint64) {
	node := c.nodes[i]

	for attempts := 0; node.ChainHeight() < target; attempts++ {
		if attempts > 20000 {
			t.Fatalf("node %d did not reach height %d", i, target)
		}

		c.clock.Advance(time.Second)
		node.harvestTask.Harvest()

		// wait for the pipeline to process the submission
		for w := 0; node.harvestTask.Pending() && w < 200; w++ {
			time.Sleep(time.Millisecond)
		}
	}
}

func (c *testCluster) converged() bool {
	first := c.nodes[0]
	for _, n := range c.nodes[1:] {
		if n.ChainHeight() != first.ChainHeight() ||
			n.TipHash() != first.TipHash() ||
			n.StateHash() != first.StateHash() ||
			n.ChainScore() != first.ChainScore() {
			return false
		}
	}
	return true
}

// syncUntilConverged runs synchronizer rounds on every node until all nodes
// report the same (score, tip hash, state hash, height).
func (c *testCluster) syncUntilConverged(t *testing.T, rounds int) {
	for r := 0; r < rounds; r++ {
		for _, n := range c.nodes {
			n.synchronizer.Round()
		}
		time.Sleep(5 * time.Millisecond)

		if c.converged() {
			return
		}
	}
	t.Fatal("cluster did not converge")
}

func TestSoloNodeHarvestsItsOwnChain(t *testing.T) {
	cluster := newTestCluster(t, 1)
	defer cluster.shutdown()

	cluster.harvestTo(t, 0, 4)

	node := cluster.nodes[0]
	if node.ChainHeight() < 4 {
		t.Fatalf("height: got %d, want >= 4", node.ChainHeight())
	}
	if node.ChainScore().IsZero() {
		t.Fatal("chain score should grow with committed blocks")
	}
	if node.StateHash().IsZero() {
		t.Fatal("state hash should be non-zero in verifiable mode")
	}
}

func TestLaggingNodeAdoptsLongerChain(t *testing.T) {
	cluster := newTestCluster(t, 2)
	defer cluster.shutdown()

	// node 1 builds a chain while node 0 stays at genesis
	cluster.harvestTo(t, 1, 4)
	cluster.connectAll()

	cluster.syncUntilConverged(t, 50)

	if cluster.nodes[0].ChainHeight() != cluster.nodes[1].ChainHeight() {
		t.Fatal("heights differ after sync")
	}
	if cluster.nodes[0].TipHash() != cluster.nodes[1].TipHash() {
		t.Fatal("tips differ after sync")
	}
}

func TestForkWithinRollbackCapResolvesToHigherScore(t *testing.T) {
	cluster := newTestCluster(t, 2)
	defer cluster.shutdown()

	// two disjoint chains from a common genesis, both within the rollback
	// cap (MaxRollbackBlocks = 4)
	cluster.harvestTo(t, 0, 3)
	cluster.harvestTo(t, 1, 5)

	scoreA := cluster.nodes[0].ChainScore()
	scoreB := cluster.nodes[1].ChainScore()

	cluster.connectAll()
	cluster.syncUntilConverged(t, 100)

	// the winner is determined by (score, tip hash)
	winner := scoreB
	if scoreA.Cmp(scoreB) > 0 {
		winner = scoreA
	}
	if cluster.nodes[0].ChainScore().Cmp(winner) < 0 {
		t.Fatalf("converged score %v below best seeded score %v", cluster.nodes[0].ChainScore(), winner)
	}
}

func TestDeepForkIsRejected(t *testing.T) {
	cluster := newTestCluster(t, 2)
	defer cluster.shutdown()

	// node 0's fork point (genesis) is deeper than MaxRollbackBlocks below
	// its own tip, so it must refuse to reorganize regardless of score
	cluster.harvestTo(t, 0, 7)
	cluster.harvestTo(t, 1, 9)

	tipBefore := cluster.nodes[0].TipHash()
	scoreBefore := cluster.nodes[0].ChainScore()
	heightBefore := cluster.nodes[0].ChainHeight()

	cluster.connectAll()

	err := cluster.nodes[0].synchronizer.Round()
	if errors.Cause(err) != chainsync.ErrIncompatiblePeer {
		t.Fatalf("got %v, want ErrIncompatiblePeer", err)
	}

	if cluster.nodes[0].TipHash() != tipBefore ||
		cluster.nodes[0].ChainScore() != scoreBefore ||
		cluster.nodes[0].ChainHeight() != heightBefore {
		t.Fatal("deep fork mutated local state")
	}
}

func TestDenseClusterConvergence(t *testing.T) {
	const n = 4
	cluster := newTestCluster(t, n)
	defer cluster.shutdown()

	// distinct seeded chains of different lengths from a common genesis,
	// all within the rollback cap
	for i := 0; i < n; i++ {
		cluster.harvestTo(t, i, uint64(2+i))
	}

	best := cluster.nodes[0].ChainScore()
	for _, node := range cluster.nodes[1:] {
		if node.ChainScore().Cmp(best) > 0 {
			best = node.ChainScore()
		}
	}

	cluster.connectAll()
	cluster.syncUntilConverged(t, 200)

	// everyone must sit on the highest-scoring seeded chain or better
	for _, node := range cluster.nodes {
		if node.ChainHeight() < 2 {
			t.Fatal("converged chain lost its blocks")
		}
		if node.ChainScore().Cmp(best) < 0 {
			t.Fatalf("converged score %v below best seeded score %v", node.ChainScore(), best)
		}
	}
}

func TestSparseRingConvergence(t *testing.T) {
	const n = 4
	cluster := newTestCluster(t, n)
	defer cluster.shutdown()

	for i := 0; i < n; i++ {
		cluster.harvestTo(t, i, uint64(2+i))
	}

	cluster.connectRing()
	cluster.syncUntilConverged(t, 400)
}

func TestPushedBlockExtendsRemoteChains(t *testing.T) {
	cluster := newTestCluster(t, 2)
	defer cluster.shutdown()

	cluster.connectAll()

	// node 0 harvests one block; the commit fans out through the new-block
	// sink and node 1 accepts the push
	cluster.harvestTo(t, 0, 2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cluster.nodes[1].ChainHeight() == cluster.nodes[0].ChainHeight() &&
			cluster.nodes[1].TipHash() == cluster.nodes[0].TipHash() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pushed block did not reach the peer")
}
