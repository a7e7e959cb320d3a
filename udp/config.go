package udp

import (
	"errors"
	"fmt"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/responsewriter"
	"github.com/plgd-dev/go-coap-engine/options/config"
	"github.com/prometheus/client_golang/prometheus"
)

// HandlerFunc handles a request received by the endpoint. The response set
// on the writer is sent when the handler returns; a handler that answers
// later calls Endpoint.SendResponse itself.
type HandlerFunc = func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message)

// ResponseHandlerFunc receives every response of local exchanges.
type ResponseHandlerFunc = func(ex *exchange.Exchange, resp *exchange.Message)

// FailureHandlerFunc is called once for every exchange of this endpoint that
// failed for another reason than being canceled.
type FailureHandlerFunc = func(ex *exchange.Exchange, err error)

type ErrorFunc = config.ErrorFunc

// GoPoolFunc runs handlers outside of the endpoint executor.
type GoPoolFunc = func(f func()) error

// Interceptor observes every message crossing the transport boundary. It is
// called on the endpoint executor and must not block. Canceling the message
// drops it.
type Interceptor interface {
	// SendMessage is called before msg is encoded.
	SendMessage(msg *exchange.Message)
	// ReceiveMessage is called after msg was decoded, before it is matched.
	ReceiveMessage(msg *exchange.Message)
}

var ErrInvalidEndpointConfig = errors.New("invalid endpoint config")

var DefaultConfig = func() Config {
	return Config{
		Net:    "udp",
		Addr:   ":5683",
		Config: config.Default(),
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			w.SetResponse(codes.NotFound, message.TextPlain, nil)
		},
		ResponseHandler: func(*exchange.Exchange, *exchange.Message) {
			// NO-OP
		},
		FailureHandler: func(*exchange.Exchange, error) {
			// NO-OP
		},
		Errors: func(err error) {
			fmt.Println(err)
		},
		GoPool: func(f func()) error {
			go f()
			return nil
		},
		GetToken:         message.GetToken,
		MetricsNamespace: "coap",
	}
}()

type Config struct {
	// Net and Addr are the socket to listen on when Connector is nil.
	Net  string
	Addr string
	// Connector replaces the UDP socket.
	Connector coapNet.Connector
	// Config holds the protocol parameters.
	Config          config.Config
	LoggerFactory   logging.LoggerFactory
	Handler         HandlerFunc
	ResponseHandler ResponseHandlerFunc
	FailureHandler  FailureHandlerFunc
	Interceptors    []Interceptor
	Errors          ErrorFunc
	GoPool          GoPoolFunc
	GetToken        func() (message.Token, error)
	// LimitClientParallelRequests bounds the Do calls in flight, 0 disables
	// the limit.
	LimitClientParallelRequests int64
	// LimitClientEndpointParallelRequests bounds the Do calls in flight per
	// remote resource, 0 disables the limit.
	LimitClientEndpointParallelRequests int64
	// MetricsRegisterer enables the prometheus metrics of the endpoint.
	MetricsRegisterer prometheus.Registerer
	MetricsNamespace  string
}

// An Option sets a field of the endpoint Config.
type Option interface {
	UDPEndpointApply(cfg *Config)
}

func (c *Config) setDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Handler == nil {
		c.Handler = DefaultConfig.Handler
	}
	if c.ResponseHandler == nil {
		c.ResponseHandler = DefaultConfig.ResponseHandler
	}
	if c.FailureHandler == nil {
		c.FailureHandler = DefaultConfig.FailureHandler
	}
	if c.Errors == nil {
		c.Errors = DefaultConfig.Errors
	}
	if c.GoPool == nil {
		c.GoPool = DefaultConfig.GoPool
	}
	if c.GetToken == nil {
		c.GetToken = DefaultConfig.GetToken
	}
	if c.Net == "" {
		c.Net = DefaultConfig.Net
	}
}

// Validate checks the config after the defaults were applied.
func (c Config) Validate() error {
	if c.Connector == nil && c.Addr == "" {
		return fmt.Errorf("%w: neither address nor connector set", ErrInvalidEndpointConfig)
	}
	if c.LimitClientParallelRequests < 0 || c.LimitClientEndpointParallelRequests < 0 {
		return fmt.Errorf("%w: negative parallel requests limit", ErrInvalidEndpointConfig)
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpointConfig, err)
	}
	return nil
}
