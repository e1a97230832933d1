package accountlink

import (
	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/providers/bilibili"
	"github.com/goliatone/go-accountlink/ratelimit"
	"github.com/goliatone/go-accountlink/transport"
	glog "github.com/goliatone/go-logger/glog"
)

func BilibiliProvider(cfg bilibili.Config, opts ...bilibili.Option) (*bilibili.Provider, error) {
	return bilibili.New(cfg, opts...)
}

// PlatformFromConfig builds the platform provider and its gateway from the
// service config. Requests are throttled per host once the platform starts
// rejecting them. A nil logger or telemetry sink falls back to no-ops.
func PlatformFromConfig(cfg core.Config, logger core.Logger, telemetry core.TelemetrySink) (*bilibili.Provider, error) {
	if logger == nil {
		logger = glog.Nop()
	}
	gatewayOpts := []transport.GatewayOption{
		transport.WithLogger(logger),
		transport.WithThrottle(ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())),
	}
	if telemetry != nil {
		gatewayOpts = append(gatewayOpts, transport.WithTelemetry(telemetry))
	}
	gateway := transport.NewGateway(transport.ConfigFrom(cfg), gatewayOpts...)
	return BilibiliProvider(
		bilibili.ConfigFrom(cfg),
		bilibili.WithGateway(gateway),
		bilibili.WithLogger(logger),
	)
}
