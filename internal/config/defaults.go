package config

// Check kinds understood by the readiness prober
const (
	CheckTCP  = "tcp"
	CheckSQL  = "sql"
	CheckHTTP = "http"
)

// DefaultConfig returns a configuration matching the stock compose topology
func DefaultConfig() Config {
	return Config{
		ConfigDir: "/config",
		Setup: SetupConfig{
			ListenAddr:          ":8000",
			PollIntervalSeconds: 5,
		},
		Probe: ProbeConfig{
			MaxAttempts:     60,
			IntervalSeconds: 5,
			TimeoutSeconds:  5,
		},
		Endpoints: EndpointsConfig{
			Database: EndpointConfig{
				Host:    "postgresql",
				Port:    5432,
				Check:   CheckSQL,
				SSLMode: "disable",
			},
			Directory: EndpointConfig{
				Host:  "openldap",
				Port:  389,
				Check: CheckTCP,
			},
			IdentityProvider: EndpointConfig{
				Host:  "authentik-server",
				Port:  9000,
				Check: CheckHTTP,
				Path:  "/api/v3/",
			},
		},
		Identity: IdentityConfig{
			Containers: []string{"authentik-server", "authentik-worker"},
		},
		Radius: RadiusConfig{
			Clients:   nil,
			Container: "authentik-freeradius",
		},
		Runtime: RuntimeConfig{
			Binary:      "docker",
			ComposeFile: "/srv/localauth/docker-compose.yml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
