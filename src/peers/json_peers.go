package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"
)

const jsonPeerPath = "peers.json"

// JSONPeers provides peer persistence on disk in the form of a JSON file,
// which human operators can edit.
type JSONPeers struct {
	l    sync.Mutex
	path string
}

// NewJSONPeers creates a new JSONPeers store under base.
func NewJSONPeers(base string) *JSONPeers {
	return &JSONPeers{
		path: filepath.Join(base, jsonPeerPath),
	}
}

// PeerSet reads the peer file.
func (j *JSONPeers) PeerSet() (*PeerSet, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(buf) == 0 {
		return NewPeerSet(nil), nil
	}

	var peerSlice []*Peer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&peerSlice); err != nil {
		return nil, err
	}

	return NewPeerSet(peerSlice), nil
}

// SetPeers writes the peer file.
func (j *JSONPeers) SetPeers(peerSlice []*Peer) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSlice); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
