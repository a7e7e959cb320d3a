package options

import (
	"time"

	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"github.com/plgd-dev/go-coap-engine/udp"
)

// TransmissionOpt transmission options.
type TransmissionOpt struct {
	ackTimeout      time.Duration
	ackRandomFactor float64
	maxRetransmit   int
}

func (o TransmissionOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Config.AckTimeout = o.ackTimeout
	cfg.Config.AckRandomFactor = o.ackRandomFactor
	cfg.Config.MaxRetransmit = o.maxRetransmit
}

// WithTransmission set options for (re)transmission for Confirmable message-s.
func WithTransmission(ackTimeout time.Duration, ackRandomFactor float64, maxRetransmit int) TransmissionOpt {
	return TransmissionOpt{
		ackTimeout:      ackTimeout,
		ackRandomFactor: ackRandomFactor,
		maxRetransmit:   maxRetransmit,
	}
}

// ExchangeLifetimeOpt exchange lifetime option.
type ExchangeLifetimeOpt struct {
	lifetime time.Duration
	sweep    time.Duration
}

func (o ExchangeLifetimeOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Config.ExchangeLifetime = o.lifetime
	if o.sweep > 0 {
		cfg.Config.SweepInterval = o.sweep
	}
}

// WithExchangeLifetime sets how long message IDs and tokens stay reserved.
// A zero sweepInterval keeps the configured one.
func WithExchangeLifetime(lifetime, sweepInterval time.Duration) ExchangeLifetimeOpt {
	return ExchangeLifetimeOpt{lifetime: lifetime, sweep: sweepInterval}
}

// ConnectorOpt connector option.
type ConnectorOpt struct {
	connector coapNet.Connector
}

func (o ConnectorOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Connector = o.connector
}

// WithConnector replaces the UDP socket of the endpoint.
func WithConnector(c coapNet.Connector) ConnectorOpt {
	return ConnectorOpt{connector: c}
}

// AddressOpt listen address option.
type AddressOpt struct {
	net  string
	addr string
}

func (o AddressOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Net = o.net
	cfg.Addr = o.addr
}

// WithAddress sets the socket the endpoint listens on, e.g. "udp4" and
// "0.0.0.0:5683".
func WithAddress(network, addr string) AddressOpt {
	return AddressOpt{net: network, addr: addr}
}
