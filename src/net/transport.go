package net

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Listen starts the transport listening.
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address.
	LocalAddr() string

	// ChainInfo, BlockHashes, PullBlocks, PushBlock, and PushTransactions
	// send the appropriate RPC to the target node.

	ChainInfo(target string, args *ChainInfoRequest, resp *ChainInfoResponse) error

	BlockHashes(target string, args *BlockHashesRequest, resp *BlockHashesResponse) error

	PullBlocks(target string, args *PullBlocksRequest, resp *PullBlocksResponse) error

	PushBlock(target string, args *PushBlockRequest, resp *PushBlockResponse) error

	PushTransactions(target string, args *PushTransactionsRequest, resp *PushTransactionsResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
