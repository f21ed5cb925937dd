package telemetry

type Config struct {
	// OTLP exporter settings. Takes precedence over Jaeger when the host is set.
	OTLP OTLP `yaml:"otlp"`
	// Jaeger collector endpoint.
	JaegerURL string `yaml:"jaegerUrl"`
	// Name under which the spans are reported.
	Package string `yaml:"package"`
	// ID of the service instance, generated if empty.
	ID string `yaml:"id"`
}

func (c Config) Enabled() bool {
	return c.OTLP.Host != "" || c.JaegerURL != ""
}

type OTLP struct {
	// The endpoint without any URL path.
	Host string `yaml:"host"`
	// Use HTTPS instead of HTTP.
	Secure bool `yaml:"secure"`
}
