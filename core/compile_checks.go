package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AccountLinkService = (*Service)(nil)
	_ BindingStore       = (*MemoryBindingStore)(nil)
	_ BindingLocker      = (*MemoryBindingLocker)(nil)
	_ CredentialCodec    = CipherCredentialCodec{}
	_ MetricsRecorder    = NopMetricsRecorder{}
	_ MetricsRecorder    = (*MemoryMetricsRecorder)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
