package rpc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dreamware/tablerun/internal/peer"
	"github.com/dreamware/tablerun/internal/wire"
)

// PeerClient implements peer.Proxy by speaking the same JSON-over-HTTP
// protocol Handler serves, via the PostJSON helper in
// internal/wire/http.go.
type PeerClient struct {
	baseURL string
}

// NewPeerClient returns a Proxy for the worker reachable at addr.
func NewPeerClient(addr wire.Addr) *PeerClient {
	return &PeerClient{baseURL: "http://" + addr.Host + ":" + strconv.Itoa(addr.Port)}
}

func (c *PeerClient) Get(ctx context.Context, table, shard int, key []byte) (value []byte, missing bool, err error) {
	var resp wire.TableData
	req := wire.GetRequest{Table: table, Shard: shard, Key: key}
	if err := wire.PostJSON(ctx, c.baseURL+"/worker/get", req, &resp); err != nil {
		return nil, false, fmt.Errorf("peer get: %w", err)
	}
	return resp.Value, resp.MissingKey, nil
}

func (c *PeerClient) Put(ctx context.Context, table, shard int, kv []wire.KV) error {
	req := wire.TableData{Table: table, Shard: shard, KV: kv}
	if err := wire.PostJSON(ctx, c.baseURL+"/worker/put", req, nil); err != nil {
		return fmt.Errorf("peer put: %w", err)
	}
	return nil
}

func (c *PeerClient) GetIterator(ctx context.Context, table, shard int, id int32, count uint32) (wire.IteratorResp, error) {
	var resp wire.IteratorResp
	req := wire.IteratorReq{Table: table, Shard: shard, ID: id, Count: count}
	if err := wire.PostJSON(ctx, c.baseURL+"/worker/get_iterator", req, &resp); err != nil {
		return wire.IteratorResp{}, fmt.Errorf("peer get_iterator: %w", err)
	}
	return resp, nil
}

// BuildProxies constructs one PeerClient per peer named in workers, skipping
// selfID: a worker never holds a proxy for itself.
func BuildProxies(selfID int, workers map[int]wire.Addr) map[int]peer.Proxy {
	proxies := make(map[int]peer.Proxy, len(workers))
	for id, addr := range workers {
		if id == selfID {
			continue
		}
		proxies[id] = NewPeerClient(addr)
	}
	return proxies
}
