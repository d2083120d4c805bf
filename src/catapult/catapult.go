package catapult

import (
	"crypto/ecdsa"

	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/config"
	"github.com/kmn/catapult-server/src/crypto/keys"
	"github.com/kmn/catapult-server/src/net"
	"github.com/kmn/catapult-server/src/node"
	"github.com/kmn/catapult-server/src/peers"
	"github.com/kmn/catapult-server/src/service"
	"github.com/kmn/catapult-server/src/storage"
)

// Catapult is the top-level engine: it assembles the transport, the peer
// set, the block store and the node from a configuration object.
type Catapult struct {
	Config    *config.Config
	Key       *ecdsa.PrivateKey
	Node      *node.Node
	Transport net.Transport
	Store     storage.Store
	Peers     *peers.PeerSet
	Service   *service.Service
}

// NewCatapult creates an engine around a configuration.
func NewCatapult(conf *config.Config) *Catapult {
	return &Catapult{
		Config: conf,
	}
}

func (c *Catapult) initKey() error {
	keyfile := keys.NewSimpleKeyfile(c.Config.Keyfile())

	key, err := keyfile.ReadKey()
	if err != nil {
		return errors.Wrapf(err, "reading boot key from %s", c.Config.Keyfile())
	}

	c.Key = key
	return nil
}

func (c *Catapult) initTransport() error {
	transport, err := net.NewTCPTransport(
		c.Config.BindAddr,
		c.Config.MaxPool,
		c.Config.TCPTimeout,
		c.Config.Logger(),
	)
	if err != nil {
		return err
	}

	c.Transport = transport
	return nil
}

func (c *Catapult) initPeers() error {
	peerStore := peers.NewJSONPeers(c.Config.DataDir)

	peerSet, err := peerStore.PeerSet()
	if err != nil {
		return errors.Wrap(err, "loading peers.json")
	}

	if peerSet.Len() < 1 {
		return errors.New("peers.json should define at least one peer")
	}

	c.Peers = peerSet
	return nil
}

func (c *Catapult) initStore() error {
	if !c.Config.Store {
		c.Store = storage.NewInmemStore()
		return nil
	}

	store, err := storage.NewBadgerStore(c.Config.DatabaseDir)
	if err != nil {
		return err
	}

	c.Store = store
	return nil
}

func (c *Catapult) initNode() error {
	nodeConf := &node.Config{
		HarvestStartDelay:       c.Config.HarvestStartDelay,
		HarvestRepeatDelay:      c.Config.HarvestRepeatDelay,
		SyncStartDelay:          c.Config.SyncStartDelay,
		SyncRepeatDelay:         c.Config.SyncRepeatDelay,
		ConnectStartDelay:       c.Config.ConnectStartDelay,
		ConnectRepeatDelay:      c.Config.ConnectRepeatDelay,
		ImportanceGrouping:      c.Config.ImportanceGrouping,
		MaxRollbackBlocks:       c.Config.MaxRollbackBlocks,
		MaxDifficultyBlocks:     c.Config.MaxDifficultyBlocks,
		BlockTimeInterval:       c.Config.BlockTimeInterval,
		MaxTransactionsPerBlock: c.Config.MaxTransactionsPerBlock,
		MempoolSize:             c.Config.MempoolSize,
		RingSize:                c.Config.RingSize,
		PipelineWorkers:         c.Config.PipelineWorkers,
		SyncBatchSize:           c.Config.SyncBatchSize,
		MaxHashesPerRequest:     c.Config.MaxHashesPerRequest,
		NumPeersToSample:        c.Config.NumPeersToSample,
		BlacklistInterval:       c.Config.BlacklistInterval,
		VerifiableState:         c.Config.EnableVerifiableState,
		VerifyHits:              c.Config.VerifyHits,
		NemesisBalance:          c.Config.NemesisBalance,
		Logger:                  c.Config.RawLogger(),
	}

	c.Node = node.NewNode(nodeConf, c.Key, c.Peers, c.Store, c.Transport, nil)
	return c.Node.Init()
}

func (c *Catapult) initService() error {
	if c.Config.NoService {
		return nil
	}

	c.Service = service.NewService(c.Config.ServiceAddr, c.Node, c.Config.Logger())
	return nil
}

// Init validates the configuration and builds every component in dependency
// order.
func (c *Catapult) Init() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if err := c.initKey(); err != nil {
		return err
	}
	if err := c.initPeers(); err != nil {
		return err
	}
	if err := c.initStore(); err != nil {
		return err
	}
	if err := c.initTransport(); err != nil {
		return err
	}
	if err := c.initNode(); err != nil {
		return err
	}
	if err := c.initService(); err != nil {
		return err
	}
	return nil
}

// Run starts the info service and blocks in the node main loop.
func (c *Catapult) Run() {
	if c.Service != nil {
		go c.Service.Serve()
	}
	c.Node.Run()
}
