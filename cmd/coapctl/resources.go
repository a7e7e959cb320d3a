package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/observation"
	"github.com/plgd-dev/go-coap-engine/net/responsewriter"
	"github.com/plgd-dev/go-coap-engine/udp"
)

const (
	echoPath  = "/echo"
	largePath = "/large"
	timePath  = "/time"
)

// resources serves the demo resources of coapctl serve.
type resources struct {
	log      logging.LeveledLogger
	large    []byte
	registry *observation.Registry
	started  time.Time
}

func newResources(lf logging.LoggerFactory, largeSize int) *resources {
	return &resources{
		log:     lf.NewLogger("coapctl"),
		large:   bytes.Repeat([]byte("0123456789abcdef"), largeSize/16+1)[:largeSize],
		started: time.Now(),
	}
}

// bind attaches the observers registry to the endpoint that sends the
// notifications.
func (r *resources) bind(ep *udp.Endpoint) {
	r.registry = observation.NewRegistry(ep)
}

func (r *resources) uptime() *exchange.Message {
	resp := exchange.NewResponse(codes.Content)
	resp.Options = resp.Options.SetContentFormat(uint32(message.TextPlain))
	resp.Payload = []byte(fmt.Sprintf("Been running for %v", time.Since(r.started).Truncate(time.Second)))
	return resp
}

func (r *resources) handle(w *responsewriter.ResponseWriter[*udp.Endpoint], req *exchange.Message) {
	path, err := req.Options.Path()
	if err != nil {
		w.SetResponse(codes.BadOption, message.TextPlain, []byte(err.Error()))
		return
	}
	r.log.Infof("%v %v from %v", req.Code, path, req.RemoteAddr)
	switch {
	case path == echoPath && (req.Code == codes.POST || req.Code == codes.PUT):
		cf, err := req.Options.ContentFormat()
		if err != nil {
			cf = uint32(message.AppOctets)
		}
		w.SetResponse(codes.Changed, message.MediaType(cf), req.Payload)
	case path == largePath && req.Code == codes.GET:
		w.SetResponse(codes.Content, message.AppOctets, r.large)
	case path == timePath && req.Code == codes.GET:
		resp := r.uptime()
		if seq, ok := r.registry.Register(timePath, w.Exchange()); ok {
			resp.Options = resp.Options.SetObserve(seq)
		}
		w.SetMessage(resp)
	case path == echoPath || path == largePath || path == timePath:
		w.SetResponse(codes.MethodNotAllowed, message.TextPlain, nil)
	default:
		w.SetResponse(codes.NotFound, message.TextPlain, nil)
	}
}

// notify sends the uptime to the observers of /time every interval.
func (r *resources) notify(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.registry.Notify(timePath, r.uptime); n > 0 {
				r.log.Debugf("notified %v observers", n)
			}
		}
	}
}
