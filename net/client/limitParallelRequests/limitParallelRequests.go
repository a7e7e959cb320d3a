// Package limitparallelrequests bounds the requests an endpoint has in
// flight, in total and per remote resource.
package limitparallelrequests

import (
	"context"
	"fmt"
	"hash/crc64"
	"math"
	"sync"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"golang.org/x/sync/semaphore"
)

type DoFunc = func(ctx context.Context, req *exchange.Message) (*exchange.Message, error)

var crcTable = crc64.MakeTable(crc64.ISO)

type endpointQueue struct {
	processedCounter int64
	orderedRequest   []chan struct{}
}

type LimitParallelRequests struct {
	endpointLimit int64
	limit         *semaphore.Weighted
	do            DoFunc

	mutex          sync.Mutex
	endpointQueues map[uint64]*endpointQueue
}

// New creates new LimitParallelRequests. When limit, endpointLimit <= 0, then
// the limit is not used.
func New(limit, endpointLimit int64, do DoFunc) *LimitParallelRequests {
	if limit <= 0 {
		limit = math.MaxInt64
	}
	if endpointLimit <= 0 {
		endpointLimit = math.MaxInt64
	}
	return &LimitParallelRequests{
		limit:          semaphore.NewWeighted(limit),
		endpointLimit:  endpointLimit,
		do:             do,
		endpointQueues: make(map[uint64]*endpointQueue),
	}
}

// hash identifies the resource of req: the peer and the Uri-Path.
func hash(req *exchange.Message) uint64 {
	h := crc64.New(crcTable)
	if req.RemoteAddr != nil {
		_, _ = h.Write([]byte(req.RemoteAddr.String())) // hash never returns an error
	}
	for _, opt := range req.Options {
		if opt.ID == message.URIPath {
			_, _ = h.Write([]byte{'/'})
			_, _ = h.Write(opt.Value)
		}
	}
	return h.Sum64()
}

func (c *LimitParallelRequests) acquireEndpoint(ctx context.Context, key uint64) error {
	reqChan := make(chan struct{}) // closed when the request may proceed
	c.mutex.Lock()
	q, ok := c.endpointQueues[key]
	switch {
	case !ok:
		c.endpointQueues[key] = &endpointQueue{processedCounter: 1}
		close(reqChan)
	case q.processedCounter < c.endpointLimit:
		q.processedCounter++
		close(reqChan)
	default:
		q.orderedRequest = append(q.orderedRequest, reqChan)
	}
	c.mutex.Unlock()
	select {
	case <-reqChan:
		return nil
	case <-ctx.Done():
		c.abandonEndpoint(key, reqChan)
		return ctx.Err()
	}
}

// abandonEndpoint removes a waiting request, or releases the slot it was
// granted meanwhile.
func (c *LimitParallelRequests) abandonEndpoint(key uint64, reqChan chan struct{}) {
	c.mutex.Lock()
	if q, ok := c.endpointQueues[key]; ok {
		for i, ch := range q.orderedRequest {
			if ch == reqChan {
				q.orderedRequest = append(q.orderedRequest[:i], q.orderedRequest[i+1:]...)
				c.mutex.Unlock()
				return
			}
		}
	}
	c.mutex.Unlock()
	c.releaseEndpoint(key)
}

func (c *LimitParallelRequests) releaseEndpoint(key uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	q, ok := c.endpointQueues[key]
	if !ok {
		return
	}
	if len(q.orderedRequest) > 0 {
		reqChan := q.orderedRequest[0]
		q.orderedRequest = q.orderedRequest[1:]
		close(reqChan)
		return
	}
	q.processedCounter--
	if q.processedCounter <= 0 {
		delete(c.endpointQueues, key)
	}
}

// Do waits for a free slot and runs the request.
func (c *LimitParallelRequests) Do(ctx context.Context, req *exchange.Message) (*exchange.Message, error) {
	key := hash(req)
	if err := c.acquireEndpoint(ctx, key); err != nil {
		return nil, fmt.Errorf("cannot process request %v for client endpoint limit: %w", req, err)
	}
	defer c.releaseEndpoint(key)
	if err := c.limit.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("cannot process request %v for client limit: %w", req, err)
	}
	defer c.limit.Release(1)
	return c.do(ctx, req)
}

// Len returns the number of resources with requests in flight.
func (c *LimitParallelRequests) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.endpointQueues)
}
