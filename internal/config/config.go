package config

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// NodeConfig is the unified configuration for an atmosphere node process.
// It covers everything create_node needs that isn't itself persisted
// mesh/identity state: where on disk things live, which transports are
// enabled, and which capabilities this node advertises on start.
type NodeConfig struct {
	Version      int              `yaml:"version,omitempty"`
	DataDir      string           `yaml:"data_dir"`
	AppID        string           `yaml:"app_id"`
	Identity     IdentityConfig   `yaml:"identity"`
	Mesh         MeshConfig       `yaml:"mesh"`
	Network      NetworkConfig    `yaml:"network"`
	Capabilities []CapabilitySpec `yaml:"capabilities,omitempty"`
	Telemetry    TelemetryConfig  `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// MeshConfig points at the persisted mesh membership credentials.
type MeshConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// NetworkConfig controls which transports a node starts and how.
type NetworkConfig struct {
	ListenPort int    `yaml:"listen_port"`          // 0 = OS-assigned
	EnableLAN  bool   `yaml:"enable_lan"`           // LAN-TCP + mDNS transport
	RelayURL   string `yaml:"relay_url,omitempty"`  // non-empty enables the wide-area relay transport
}

// EnableRelay reports whether the wide-area relay transport should start.
func (n NetworkConfig) EnableRelay() bool {
	return n.RelayURL != ""
}

// ModelInfo describes the model backing a capability, when the capability
// is a model-serving one (llm.chat, llm.embed, vision, ...).
type ModelInfo struct {
	Name         string `yaml:"name,omitempty"`
	Family       string `yaml:"family,omitempty"`
	Tier         string `yaml:"tier,omitempty"`
	ParamsB      float64 `yaml:"params_b,omitempty"`
	Quantization string `yaml:"quantization,omitempty"`
}

// FeatureFlags records which optional capability features a capability
// supports. Per the resolved open question, vision/tool flags are
// optional — a zero-value FeatureFlags is a valid, fully unsupported set.
type FeatureFlags struct {
	HasRAG       bool `yaml:"has_rag,omitempty"`
	HasTools     bool `yaml:"has_tools,omitempty"`
	HasVision    bool `yaml:"has_vision,omitempty"`
	HasStreaming bool `yaml:"has_streaming,omitempty"`
}

// CapabilitySpec is the configuration-time description of a capability
// this node registers with itself on start. It mirrors the fields of a
// CapabilityAnnouncement document, minus the fields the gossip layer
// fills in (hops, ttl, timestamps, node_id).
type CapabilitySpec struct {
	ID          string       `yaml:"id"`
	Label       string       `yaml:"label,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Keywords    []string     `yaml:"keywords,omitempty"`
	GoodFor     []string     `yaml:"good_for,omitempty"`
	Specializations []string `yaml:"specializations,omitempty"`
	Model       ModelInfo    `yaml:"model,omitempty"`
	Features    FeatureFlags `yaml:"features,omitempty"`
	ProjectPath string       `yaml:"project_path,omitempty"`
}

// TelemetryConfig holds observability settings. All features are
// disabled by default (opt-in).
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9091"
}
