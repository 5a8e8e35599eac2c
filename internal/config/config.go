// Package config loads icestream's VIBE-format configuration file into a
// typed Config. Config loading and persistence itself is treated as an
// external collaborator (spec.md §1): this package only exposes
// Load(path) and the typed fields listed in spec.md §6; it does not
// watch the file or support hot-reload.
package config

import (
	"fmt"
	"time"

	"github.com/icestream/icestream/pkg/vibe"
)

// User is one entry in the shared credential list (spec.md §6
// "users[] of {username, password}").
type User struct {
	Username string
	Password string
}

// MasterServer is the relay puller's upstream configuration (spec.md §4.7
// / §6 "master_server{enabled, url, update_interval, relay_limit}").
type MasterServer struct {
	Enabled        bool
	URL            string
	UpdateInterval time.Duration
	RelayLimit     int
}

// MountLimits are the per-mount overrides spec.md §6 names under
// "limits.source_limits[mount]".
type MountLimits struct {
	Clients       int
	BurstSize     int
	HeaderTimeout time.Duration
	SourceTimeout time.Duration
}

// Limits are the admission and resource caps of spec.md §6's "limits"
// block.
type Limits struct {
	Clients          int
	Sources          int
	TotalSources     int
	QueueSize        int
	BurstSize        int
	HeaderTimeout    time.Duration
	SourceTimeout    time.Duration
	HTTPMaxLength    int64
	HTTPMaxRedirects int
	SourceLimits     map[string]MountLimits
}

// Config is the complete, typed configuration surface of spec.md §6.
type Config struct {
	Address string
	Port    int

	Metaint int

	ServerID    string
	Admin       string
	Host        string
	Location    string
	Description string

	Users []User

	MasterServer MasterServer
	Limits       Limits
}

// Default returns a Config with the same conservative defaults the
// teacher shipped (reduced queue/burst sizes for low latency), adapted
// to spec.md §6's key set.
func Default() *Config {
	return &Config{
		Address: "0.0.0.0",
		Port:    8000,
		Metaint: 16000,

		ServerID:    "icestream",
		Admin:       "",
		Host:        "localhost",
		Location:    "Earth",
		Description: "",

		MasterServer: MasterServer{
			Enabled:        false,
			UpdateInterval: 30 * time.Second,
			RelayLimit:     10,
		},
		Limits: Limits{
			Clients:          100,
			Sources:          10,
			TotalSources:     20,
			QueueSize:        262144,
			BurstSize:        65536,
			HeaderTimeout:    15 * time.Second,
			SourceTimeout:    10 * time.Second,
			HTTPMaxLength:    1 << 20,
			HTTPMaxRedirects: 5,
			SourceLimits:     make(map[string]MountLimits),
		},
	}
}

// Load parses filename as a VIBE document and populates a Config,
// following the teacher's walk-the-tree-with-defaults style.
func Load(filename string) (*Config, error) {
	v, err := vibe.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()

	cfg.Address = v.GetStringDefault("address", cfg.Address)
	cfg.Port = int(v.GetIntDefault("port", int64(cfg.Port)))
	cfg.Metaint = int(v.GetIntDefault("metaint", int64(cfg.Metaint)))
	cfg.ServerID = v.GetStringDefault("server_id", cfg.ServerID)
	cfg.Admin = v.GetStringDefault("admin", cfg.Admin)
	cfg.Host = v.GetStringDefault("host", cfg.Host)
	cfg.Location = v.GetStringDefault("location", cfg.Location)
	cfg.Description = v.GetStringDefault("description", cfg.Description)

	// VIBE arrays may only hold scalars, so users[] (spec.md §6) is
	// represented as an object keyed by an arbitrary identifier per user,
	// the same shape the teacher used for its "mounts" block.
	if users := v.GetObject("users"); users != nil {
		for _, key := range users.Keys {
			userPath := "users." + key
			cfg.Users = append(cfg.Users, User{
				Username: v.GetStringDefault(userPath+".username", ""),
				Password: v.GetStringDefault(userPath+".password", ""),
			})
		}
	}

	if ms := v.GetObject("master_server"); ms != nil {
		cfg.MasterServer.Enabled = v.GetBoolDefault("master_server.enabled", cfg.MasterServer.Enabled)
		cfg.MasterServer.URL = v.GetStringDefault("master_server.url", cfg.MasterServer.URL)
		cfg.MasterServer.RelayLimit = int(v.GetIntDefault("master_server.relay_limit", int64(cfg.MasterServer.RelayLimit)))
		if secs := v.GetInt("master_server.update_interval"); secs > 0 {
			cfg.MasterServer.UpdateInterval = time.Duration(secs) * time.Second
		}
	}

	if limits := v.GetObject("limits"); limits != nil {
		cfg.Limits.Clients = int(v.GetIntDefault("limits.clients", int64(cfg.Limits.Clients)))
		cfg.Limits.Sources = int(v.GetIntDefault("limits.sources", int64(cfg.Limits.Sources)))
		cfg.Limits.TotalSources = int(v.GetIntDefault("limits.total_sources", int64(cfg.Limits.TotalSources)))
		cfg.Limits.QueueSize = int(v.GetIntDefault("limits.queue_size", int64(cfg.Limits.QueueSize)))
		cfg.Limits.BurstSize = int(v.GetIntDefault("limits.burst_size", int64(cfg.Limits.BurstSize)))
		cfg.Limits.HTTPMaxLength = v.GetIntDefault("limits.http_max_length", cfg.Limits.HTTPMaxLength)
		cfg.Limits.HTTPMaxRedirects = int(v.GetIntDefault("limits.http_max_redirects", int64(cfg.Limits.HTTPMaxRedirects)))

		if secs := v.GetInt("limits.header_timeout"); secs > 0 {
			cfg.Limits.HeaderTimeout = time.Duration(secs) * time.Second
		}
		if secs := v.GetInt("limits.source_timeout"); secs > 0 {
			cfg.Limits.SourceTimeout = time.Duration(secs) * time.Second
		}

		if sl := limits.Get("source_limits"); sl != nil && sl.Type == vibe.TypeObject && sl.Object != nil {
			for _, mount := range sl.Object.Keys {
				mountPath := "limits.source_limits." + mount
				name := mount
				if len(name) == 0 || name[0] != '/' {
					name = "/" + name
				}
				cfg.Limits.SourceLimits[name] = MountLimits{
					Clients:   int(v.GetIntDefault(mountPath+".clients", int64(cfg.Limits.Clients))),
					BurstSize: int(v.GetIntDefault(mountPath+".burst_size", int64(cfg.Limits.BurstSize))),
					HeaderTimeout: func() time.Duration {
						if secs := v.GetInt(mountPath + ".header_timeout"); secs > 0 {
							return time.Duration(secs) * time.Second
						}
						return cfg.Limits.HeaderTimeout
					}(),
					SourceTimeout: func() time.Duration {
						if secs := v.GetInt(mountPath + ".source_timeout"); secs > 0 {
							return time.Duration(secs) * time.Second
						}
						return cfg.Limits.SourceTimeout
					}(),
				}
			}
		}
	}

	return cfg, nil
}

// EffectiveSourceLimits resolves the per-mount overrides of
// limits.source_limits against the global defaults, per SPEC_FULL.md
// §4.4's "resolves the effective value as source_limits[mount].X if
// present, else the global limits.X".
func (c *Config) EffectiveSourceLimits(mount string) MountLimits {
	if ml, ok := c.Limits.SourceLimits[mount]; ok {
		return ml
	}
	return MountLimits{
		Clients:       c.Limits.Clients,
		BurstSize:     c.Limits.BurstSize,
		HeaderTimeout: c.Limits.HeaderTimeout,
		SourceTimeout: c.Limits.SourceTimeout,
	}
}

// Validate performs the same basic sanity checks the teacher's Config
// did, adapted to the new schema.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Limits.Clients <= 0 {
		return fmt.Errorf("limits.clients must be positive")
	}
	if c.Limits.Sources <= 0 {
		return fmt.Errorf("limits.sources must be positive")
	}
	if c.Limits.TotalSources < c.Limits.Sources {
		return fmt.Errorf("limits.total_sources must be >= limits.sources")
	}
	if len(c.Users) == 0 {
		return fmt.Errorf("at least one entry in users[] is required")
	}
	return nil
}
