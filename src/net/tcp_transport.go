package net

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// ErrTransportShutdown is returned when operations on a transport are
// invoked after it's been terminated.
var ErrTransportShutdown = errors.New("transport shutdown")

// packetHeaderSize is the size of the length-prefixed frame header:
// a little-endian u32 total size followed by a little-endian u32 type.
const packetHeaderSize = 8

// maxPacketSize bounds a single frame. A full pull chunk of blocks stays
// well under this.
const maxPacketSize = 32 * 1024 * 1024

func wireHandle() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}

/*
TCPTransport provides a network based transport that can be used to
communicate with remote nodes. Each RPC is one length-prefixed binary frame:

	{u32 size, u32 type, payload[size-8]}

little-endian, with a CBOR encoded payload. The response is a frame of the
same type whose payload wraps either an error string or the response body.
*/
type TCPTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	listener net.Listener
	timeout  time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
}

// Release closes the underlying connection.
func (n *netConn) Release() error {
	return n.conn.Close()
}

type responseEnvelope struct {
	Error string
	Body  []byte
}

// NewTCPTransport creates a transport bound to bindAddr. The maxPool
// controls how many connections are pooled per target. The timeout applies
// I/O deadlines to every call.
func NewTCPTransport(bindAddr string, maxPool int, timeout time.Duration, logger *logrus.Entry) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding to %s", bindAddr)
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &TCPTransport{
		logger:     logger.WithField("component", "transport"),
		connPool:   make(map[string][]*netConn),
		maxPool:    maxPool,
		consumeCh:  make(chan RPC),
		shutdownCh: make(chan struct{}),
		listener:   listener,
		timeout:    timeout,
	}, nil
}

// Listen implements the Transport interface.
func (t *TCPTransport) Listen() {
	go t.listen()
}

// Consumer implements the Transport interface.
func (t *TCPTransport) Consumer() <-chan RPC {
	return t.consumeCh
}

// LocalAddr implements the Transport interface.
func (t *TCPTransport) LocalAddr() string {
	return t.listener.Addr().String()
}

// Close implements the Transport interface.
func (t *TCPTransport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if !t.shutdown {
		close(t.shutdownCh)
		t.listener.Close()
		t.shutdown = true
	}
	return nil
}

// ChainInfo implements the Transport interface.
func (t *TCPTransport) ChainInfo(target string, args *ChainInfoRequest, resp *ChainInfoResponse) error {
	return t.genericRPC(target, PacketTypeChainInfo, args, resp)
}

// BlockHashes implements the Transport interface.
func (t *TCPTransport) BlockHashes(target string, args *BlockHashesRequest, resp *BlockHashesResponse) error {
	return t.genericRPC(target, PacketTypeBlockHashes, args, resp)
}

// PullBlocks implements the Transport interface.
func (t *TCPTransport) PullBlocks(target string, args *PullBlocksRequest, resp *PullBlocksResponse) error {
	return t.genericRPC(target, PacketTypePullBlocks, args, resp)
}

// PushBlock implements the Transport interface.
func (t *TCPTransport) PushBlock(target string, args *PushBlockRequest, resp *PushBlockResponse) error {
	return t.genericRPC(target, PacketTypePushBlock, args, resp)
}

// PushTransactions implements the Transport interface.
func (t *TCPTransport) PushTransactions(target string, args *PushTransactionsRequest, resp *PushTransactionsResponse) error {
	return t.genericRPC(target, PacketTypePushTransactions, args, resp)
}

// genericRPC handles a simple request/response interaction with one pooled
// connection.
func (t *TCPTransport) genericRPC(target string, packetType uint32, args interface{}, resp interface{}) error {
	conn, err := t.getConn(target)
	if err != nil {
		return err
	}

	if t.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	if err := writePacket(conn.w, packetType, args); err != nil {
		conn.Release()
		return err
	}

	_, payload, err := readPacket(conn.r)
	if err != nil {
		conn.Release()
		return err
	}

	var envelope responseEnvelope
	if err := codec.NewDecoderBytes(payload, wireHandle()).Decode(&envelope); err != nil {
		conn.Release()
		return errors.Wrap(err, "decoding response envelope")
	}
	if envelope.Error != "" {
		t.returnConn(conn)
		return errors.New(envelope.Error)
	}

	if err := codec.NewDecoderBytes(envelope.Body, wireHandle()).Decode(resp); err != nil {
		conn.Release()
		return errors.Wrap(err, "decoding response body")
	}

	t.returnConn(conn)
	return nil
}

func (t *TCPTransport) getConn(target string) (*netConn, error) {
	t.connPoolLock.Lock()
	if conns, ok := t.connPool[target]; ok && len(conns) > 0 {
		conn := conns[len(conns)-1]
		t.connPool[target] = conns[:len(conns)-1]
		t.connPoolLock.Unlock()
		return conn, nil
	}
	t.connPoolLock.Unlock()

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.Dial("tcp", target)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", target)
	}

	return &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      bufio.NewWriter(conn),
	}, nil
}

func (t *TCPTransport) returnConn(conn *netConn) {
	t.connPoolLock.Lock()
	defer t.connPoolLock.Unlock()

	if t.isShutdown() || len(t.connPool[conn.target]) >= t.maxPool {
		conn.Release()
		return
	}
	t.connPool[conn.target] = append(t.connPool[conn.target], conn)
}

func (t *TCPTransport) isShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

func (t *TCPTransport) listen() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.isShutdown() {
				return
			}
			t.logger.WithError(err).Error("Failed to accept connection")
			continue
		}

		t.logger.WithField("node", conn.RemoteAddr()).Debug("Accepted connection")
		go t.handleConn(conn)
	}
}

// handleConn is used to serve a single connection, one framed RPC at a time.
func (t *TCPTransport) handleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		packetType, payload, err := readPacket(r)
		if err != nil {
			if err != io.EOF && !t.isShutdown() {
				t.logger.WithError(err).Debug("Failed to read packet")
			}
			return
		}

		command, err := decodeCommand(packetType, payload)
		if err != nil {
			t.logger.WithError(err).Debug("Failed to decode command")
			return
		}

		respCh := make(chan RPCResponse, 1)
		select {
		case t.consumeCh <- RPC{Command: command, RespChan: respCh}:
		case <-t.shutdownCh:
			return
		}

		var rpcResp RPCResponse
		select {
		case rpcResp = <-respCh:
		case <-t.shutdownCh:
			return
		}

		envelope := responseEnvelope{}
		if rpcResp.Error != nil {
			envelope.Error = rpcResp.Error.Error()
		} else {
			if err := codec.NewEncoderBytes(&envelope.Body, wireHandle()).Encode(rpcResp.Response); err != nil {
				envelope.Error = err.Error()
				envelope.Body = nil
			}
		}

		if err := writePacket(w, packetType, &envelope); err != nil {
			t.logger.WithError(err).Debug("Failed to write response")
			return
		}
	}
}

func decodeCommand(packetType uint32, payload []byte) (interface{}, error) {
	var command interface{}
	switch packetType {
	case PacketTypeChainInfo:
		command = new(ChainInfoRequest)
	case PacketTypeBlockHashes:
		command = new(BlockHashesRequest)
	case PacketTypePullBlocks:
		command = new(PullBlocksRequest)
	case PacketTypePushBlock:
		command = new(PushBlockRequest)
	case PacketTypePushTransactions:
		command = new(PushTransactionsRequest)
	default:
		return nil, errors.Errorf("unknown packet type %d", packetType)
	}

	if err := codec.NewDecoderBytes(payload, wireHandle()).Decode(command); err != nil {
		return nil, errors.Wrap(err, "decoding command payload")
	}
	return command, nil
}

// writePacket frames and writes one packet.
func writePacket(w *bufio.Writer, packetType uint32, body interface{}) error {
	var payload []byte
	if err := codec.NewEncoderBytes(&payload, wireHandle()).Encode(body); err != nil {
		return errors.Wrap(err, "encoding packet payload")
	}

	var header [packetHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(packetHeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], packetType)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readPacket reads one framed packet.
func readPacket(r *bufio.Reader) (uint32, []byte, error) {
	var header [packetHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	size := binary.LittleEndian.Uint32(header[0:4])
	packetType := binary.LittleEndian.Uint32(header[4:8])

	if size < packetHeaderSize || size > maxPacketSize {
		return 0, nil, errors.Errorf("invalid packet size %d", size)
	}

	payload := make([]byte, size-packetHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	return packetType, payload, nil
}
