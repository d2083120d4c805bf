package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/node"
)

// Service exposes a read-only HTTP API over the node: chain info, blocks,
// peers, and stats.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService creates and registers the service.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/chain", s.makeHandler(s.GetChain))
	http.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving HTTP API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.WithError(err).Error("HTTP service stopped")
	}
}

// GetChain returns the local chain fingerprint: height, score, tip hash and
// state hash.
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	score := s.node.ChainScore()

	chainInfo := map[string]interface{}{
		"height":     s.node.ChainHeight(),
		"score_high": score.High,
		"score_low":  score.Low,
		"tip_hash":   s.node.TipHash().Hex(),
		"state_hash": s.node.StateHash().Hex(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chainInfo); err != nil {
		s.logger.WithError(err).Error("Failed to encode chain info")
	}
}

// GetBlock returns the block at the height given in the URL path.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := strings.TrimPrefix(r.URL.Path, "/block/")

	height, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}

	block, err := s.node.GetBlock(height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(block); err != nil {
		s.logger.WithError(err).Error("Failed to encode block")
	}
}

// GetPeers returns the peer set.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.node.GetPeers()); err != nil {
		s.logger.WithError(err).Error("Failed to encode peers")
	}
}

// GetStats returns node statistics.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.node.GetStats()); err != nil {
		s.logger.WithError(err).Error("Failed to encode stats")
	}
}
