package options

import (
	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/options/config"
	"github.com/plgd-dev/go-coap-engine/udp"
	"github.com/prometheus/client_golang/prometheus"
)

type ErrorFunc = config.ErrorFunc

// HandlerFuncOpt handler function option.
type HandlerFuncOpt struct {
	h udp.HandlerFunc
}

func (o HandlerFuncOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Handler = o.h
}

// WithHandlerFunc set handle for handling request's.
func WithHandlerFunc(h udp.HandlerFunc) HandlerFuncOpt {
	return HandlerFuncOpt{h: h}
}

// ResponseHandlerOpt response handler option.
type ResponseHandlerOpt struct {
	h udp.ResponseHandlerFunc
}

func (o ResponseHandlerOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.ResponseHandler = o.h
}

// WithResponseHandler sets the function receiving every response of the
// requests sent by the endpoint.
func WithResponseHandler(h udp.ResponseHandlerFunc) ResponseHandlerOpt {
	return ResponseHandlerOpt{h: h}
}

// FailureHandlerOpt failure handler option.
type FailureHandlerOpt struct {
	h udp.FailureHandlerFunc
}

func (o FailureHandlerOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.FailureHandler = o.h
}

// WithFailureHandler sets the function called for failed exchanges.
func WithFailureHandler(h udp.FailureHandlerFunc) FailureHandlerOpt {
	return FailureHandlerOpt{h: h}
}

// ErrorsOpt errors option.
type ErrorsOpt struct {
	errors ErrorFunc
}

func (o ErrorsOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Errors = o.errors
}

// WithErrors set function for logging error.
func WithErrors(errors ErrorFunc) ErrorsOpt {
	return ErrorsOpt{errors: errors}
}

// GoPoolOpt gopool option.
type GoPoolOpt struct {
	goPool udp.GoPoolFunc
}

func (o GoPoolOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.GoPool = o.goPool
}

// WithGoPool sets function for managing spawning go routines
// for handling incoming request's.
// Eg: https://github.com/panjf2000/ants.
func WithGoPool(goPool udp.GoPoolFunc) GoPoolOpt {
	return GoPoolOpt{goPool: goPool}
}

// LoggerFactoryOpt logger option.
type LoggerFactoryOpt struct {
	f logging.LoggerFactory
}

func (o LoggerFactoryOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.LoggerFactory = o.f
}

// WithLoggerFactory sets the factory of the loggers of all endpoint parts.
func WithLoggerFactory(f logging.LoggerFactory) LoggerFactoryOpt {
	return LoggerFactoryOpt{f: f}
}

// ConfigOpt protocol parameters option.
type ConfigOpt struct {
	cfg config.Config
}

func (o ConfigOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Config = o.cfg
}

// WithConfig replaces all protocol parameters, e.g. ones from config.Load.
func WithConfig(c config.Config) ConfigOpt {
	return ConfigOpt{cfg: c}
}

// MaxMessageSizeOpt handler function option.
type MaxMessageSizeOpt struct {
	maxMessageSize config.ByteSize
}

func (o MaxMessageSizeOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Config.MaxMessageSize = o.maxMessageSize
}

// WithMaxMessageSize limit size of processed message.
func WithMaxMessageSize(maxMessageSize config.ByteSize) MaxMessageSizeOpt {
	return MaxMessageSizeOpt{maxMessageSize: maxMessageSize}
}

// BlockwiseOpt block-wise transfer option.
type BlockwiseOpt struct {
	blockSize   config.ByteSize
	maxBodySize config.ByteSize
}

func (o BlockwiseOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Config.BlockSize = o.blockSize
	cfg.Config.MaxBodySize = o.maxBodySize
}

// WithBlockwise configures the preferred block size and the limit of
// reassembled bodies.
func WithBlockwise(blockSize, maxBodySize config.ByteSize) BlockwiseOpt {
	return BlockwiseOpt{blockSize: blockSize, maxBodySize: maxBodySize}
}

// InterceptorOpt interceptor option. Interceptors accumulate.
type InterceptorOpt struct {
	interceptor udp.Interceptor
}

func (o InterceptorOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.Interceptors = append(cfg.Interceptors, o.interceptor)
}

// WithInterceptor adds an observer of the messages sent and received.
func WithInterceptor(i udp.Interceptor) InterceptorOpt {
	return InterceptorOpt{interceptor: i}
}

// MetricsOpt prometheus option.
type MetricsOpt struct {
	reg       prometheus.Registerer
	namespace string
}

func (o MetricsOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.MetricsRegisterer = o.reg
	if o.namespace != "" {
		cfg.MetricsNamespace = o.namespace
	}
}

// WithMetrics registers the endpoint metrics in reg.
func WithMetrics(reg prometheus.Registerer, namespace string) MetricsOpt {
	return MetricsOpt{reg: reg, namespace: namespace}
}

// GetTokenOpt token option.
type GetTokenOpt struct {
	getToken func() (message.Token, error)
}

func (o GetTokenOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.GetToken = o.getToken
}

// WithGetToken set function for generating tokens.
func WithGetToken(getToken func() (message.Token, error)) GetTokenOpt {
	return GetTokenOpt{getToken: getToken}
}

// LimitClientParallelRequestOpt limit's number of parallel requests from client.
type LimitClientParallelRequestOpt struct {
	limitClientParallelRequests int64
}

func (o LimitClientParallelRequestOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.LimitClientParallelRequests = o.limitClientParallelRequests
}

// WithLimitClientParallelRequest limits number of parallel requests from client. (default: 0 means no limit)
func WithLimitClientParallelRequest(limitClientParallelRequests int64) LimitClientParallelRequestOpt {
	return LimitClientParallelRequestOpt{limitClientParallelRequests: limitClientParallelRequests}
}

// LimitClientEndpointParallelRequestOpt limit's number of parallel requests to endpoint by client.
type LimitClientEndpointParallelRequestOpt struct {
	limitClientEndpointParallelRequests int64
}

func (o LimitClientEndpointParallelRequestOpt) UDPEndpointApply(cfg *udp.Config) {
	cfg.LimitClientEndpointParallelRequests = o.limitClientEndpointParallelRequests
}

// WithLimitClientEndpointParallelRequest limits number of parallel requests to endpoint from client. (default: 0 means no limit)
func WithLimitClientEndpointParallelRequest(limitClientEndpointParallelRequests int64) LimitClientEndpointParallelRequestOpt {
	return LimitClientEndpointParallelRequestOpt{limitClientEndpointParallelRequests: limitClientEndpointParallelRequests}
}
