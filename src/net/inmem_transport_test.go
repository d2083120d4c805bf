package net

import (
	"testing"
	"time"

	"github.com/kmn/catapult-server/src/model"
)

// serve answers every RPC on the transport's consumer channel with the
// provided handler until the test ends.
func serve(t *testing.T, trans *InmemTransport, handler func(interface{}) interface{}) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		for {
			select {
			case rpc := <-trans.Consumer():
				rpc.Respond(handler(rpc.Command), nil)
			case <-done:
				return
			}
		}
	}()
}

func TestInmemChainInfoRoundTrip(t *testing.T) {
	addrA, transA := NewInmemTransport("")
	addrB, transB := NewInmemTransport("")
	_ = addrA

	transA.Connect(addrB, transB)

	serve(t, transB, func(cmd interface{}) interface{} {
		req := cmd.(*ChainInfoRequest)
		return &ChainInfoResponse{FromID: req.FromID + 1, ScoreHigh: 1, ScoreLow: 2, Height: 42}
	})

	var resp ChainInfoResponse
	if err := transA.ChainInfo(addrB, &ChainInfoRequest{FromID: 7}, &resp); err != nil {
		t.Fatal(err)
	}

	if resp.FromID != 8 || resp.Height != 42 || resp.ScoreHigh != 1 || resp.ScoreLow != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInmemPullBlocksRoundTrip(t *testing.T) {
	addrB, transB := NewInmemTransport("")
	_, transA := NewInmemTransport("")

	transA.Connect(addrB, transB)

	block := &model.Block{Body: model.BlockBody{Height: 5, Timestamp: 50}}
	serve(t, transB, func(cmd interface{}) interface{} {
		return &PullBlocksResponse{Blocks: []*model.Block{block}}
	})

	var resp PullBlocksResponse
	if err := transA.PullBlocks(addrB, &PullBlocksRequest{Height: 5, MaxBlocks: 1}, &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.Blocks) != 1 || resp.Blocks[0].Body.Height != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInmemUnknownTargetFails(t *testing.T) {
	_, trans := NewInmemTransport("")

	var resp ChainInfoResponse
	if err := trans.ChainInfo("nowhere", &ChainInfoRequest{}, &resp); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestInmemTimesOutWithoutResponder(t *testing.T) {
	addrB, transB := NewInmemTransport("")
	_, transA := NewInmemTransport("")
	transA.Connect(addrB, transB)

	start := time.Now()
	var resp ChainInfoResponse
	err := transA.ChainInfo(addrB, &ChainInfoRequest{}, &resp)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout took too long")
	}
}
