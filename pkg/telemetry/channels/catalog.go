package channels

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaseCapability is the capability unlocked when every required channel is present.
const BaseCapability = "Basic lap analysis"

// ChannelSpec names a semantic channel and the column labels accepted for it.
type ChannelSpec struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases" yaml:"aliases"`
}

// CapabilityRule unlocks Label when every optional channel in Requires matched.
type CapabilityRule struct {
	Label    string   `json:"label" yaml:"label"`
	Requires []string `json:"requires" yaml:"requires"`
}

// Catalog is the ordered set of channels a lap log is resolved against.
//
// Order matters: channels are matched and reported in declaration order, and
// capability rules are evaluated in declaration order.
type Catalog struct {
	Required       []ChannelSpec    `json:"required" yaml:"required"`
	Optional       []ChannelSpec    `json:"optional" yaml:"optional"`
	Capabilities   []CapabilityRule `json:"capabilities" yaml:"capabilities"`
	BaseCapability string           `json:"base_capability,omitempty" yaml:"base_capability,omitempty"`
}

// DefaultCatalog returns the built-in catalog. Each call returns a fresh copy.
func DefaultCatalog() Catalog {
	return Catalog{
		Required: []ChannelSpec{
			{Name: "time", Aliases: []string{"time", "timestamp", "elapsed_time", "elapsed", "laptime", "lap_time", "session_time", "t"}},
			{Name: "distance", Aliases: []string{"distance", "dist", "lap_distance", "lapdist", "distance_m", "lap_dist"}},
			{Name: "speed", Aliases: []string{"speed", "velocity", "speed_kmh", "speed_kph", "speed_mph", "gps_speed", "ground_speed", "vcar"}},
		},
		Optional: []ChannelSpec{
			{Name: "throttle", Aliases: []string{"throttle", "throttle_pos", "tps", "accelerator", "pedal_throttle", "throttle_pct"}},
			{Name: "brake", Aliases: []string{"brake", "brake_pressure", "brake_pos", "pedal_brake", "brake_pct", "bps"}},
			{Name: "gear", Aliases: []string{"gear", "ngear", "gear_position"}},
			{Name: "rpm", Aliases: []string{"rpm", "engine_rpm", "nmot", "engine_speed"}},
			{Name: "steering", Aliases: []string{"steering", "steering_angle", "steer", "steering_wheel_angle", "swa"}},
			{Name: "gLateral", Aliases: []string{"g_lat", "glat", "lateral_g", "g_lateral", "lat_g", "accel_lateral"}},
			{Name: "gLongitudinal", Aliases: []string{"g_long", "glong", "longitudinal_g", "g_longitudinal", "long_g", "accel_longitudinal"}},
			{Name: "suspensionFL", Aliases: []string{"susp_fl", "suspension_fl", "damper_fl", "ride_height_fl"}},
			{Name: "suspensionFR", Aliases: []string{"susp_fr", "suspension_fr", "damper_fr", "ride_height_fr"}},
			{Name: "suspensionRL", Aliases: []string{"susp_rl", "suspension_rl", "damper_rl", "ride_height_rl"}},
			{Name: "suspensionRR", Aliases: []string{"susp_rr", "suspension_rr", "damper_rr", "ride_height_rr"}},
			{Name: "tireTempFL", Aliases: []string{"tire_temp_fl", "tyre_temp_fl", "tt_fl"}},
			{Name: "latitude", Aliases: []string{"latitude", "lat", "gps_lat"}},
			{Name: "longitude", Aliases: []string{"longitude", "lon", "lng", "gps_lon"}},
		},
		Capabilities: []CapabilityRule{
			{Label: "Driver input analysis", Requires: []string{"throttle", "brake"}},
			{Label: "G-force analysis", Requires: []string{"gLateral", "gLongitudinal"}},
			{Label: "Suspension analysis", Requires: []string{"suspensionFL"}},
			{Label: "Steering analysis", Requires: []string{"steering"}},
			{Label: "Powertrain analysis", Requires: []string{"rpm", "gear"}},
			{Label: "Tire temperature analysis", Requires: []string{"tireTempFL"}},
			{Label: "Racing line map", Requires: []string{"latitude", "longitude"}},
		},
		BaseCapability: BaseCapability,
	}
}

// RequiredNames returns the required channel names in catalog order.
func (c Catalog) RequiredNames() []string {
	return names(c.Required)
}

// OptionalNames returns the optional channel names in catalog order.
func (c Catalog) OptionalNames() []string {
	return names(c.Optional)
}

func names(specs []ChannelSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func (c Catalog) baseCapability() string {
	if strings.TrimSpace(c.BaseCapability) == "" {
		return BaseCapability
	}
	return c.BaseCapability
}

// Collision records an alias claimed by more than one channel.
type Collision struct {
	Alias    string
	Channels []string
}

func (c Collision) String() string {
	return fmt.Sprintf("alias %q claimed by %s", c.Alias, strings.Join(c.Channels, ", "))
}

// Collisions reports aliases (ASCII case-folded) listed under more than one
// channel, across both halves of the catalog. Channel names are qualified
// with their half ("required.time").
func (c Catalog) Collisions() []Collision {
	owners := make(map[string][]string)
	var order []string
	add := func(half string, specs []ChannelSpec) {
		for _, s := range specs {
			seen := make(map[string]struct{}, len(s.Aliases))
			for _, a := range s.Aliases {
				key := foldASCII(a)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if _, ok := owners[key]; !ok {
					order = append(order, key)
				}
				owners[key] = append(owners[key], half+"."+s.Name)
			}
		}
	}
	add("required", c.Required)
	add("optional", c.Optional)

	var out []Collision
	for _, key := range order {
		if len(owners[key]) > 1 {
			out = append(out, Collision{Alias: key, Channels: owners[key]})
		}
	}
	return out
}

// Validate checks that the catalog is well formed and free of alias collisions.
func (c Catalog) Validate() error {
	if len(c.Required) == 0 {
		return fmt.Errorf("catalog: at least one required channel is needed")
	}
	seen := make(map[string]string)
	check := func(half string, specs []ChannelSpec) error {
		for i, s := range specs {
			name := strings.TrimSpace(s.Name)
			if name == "" {
				return fmt.Errorf("catalog: %s channel #%d has no name", half, i+1)
			}
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("catalog: channel %q declared in both %s and %s", name, prev, half)
			}
			seen[name] = half
			if len(s.Aliases) == 0 {
				return fmt.Errorf("catalog: channel %q has no aliases", name)
			}
			for _, a := range s.Aliases {
				if strings.TrimSpace(a) == "" {
					return fmt.Errorf("catalog: channel %q has an empty alias", name)
				}
			}
		}
		return nil
	}
	if err := check("required", c.Required); err != nil {
		return err
	}
	if err := check("optional", c.Optional); err != nil {
		return err
	}

	optional := make(map[string]struct{}, len(c.Optional))
	for _, s := range c.Optional {
		optional[s.Name] = struct{}{}
	}
	for i, r := range c.Capabilities {
		if strings.TrimSpace(r.Label) == "" {
			return fmt.Errorf("catalog: capability #%d has no label", i+1)
		}
		if len(r.Requires) == 0 {
			return fmt.Errorf("catalog: capability %q requires no channels", r.Label)
		}
		for _, name := range r.Requires {
			if _, ok := optional[name]; !ok {
				return fmt.Errorf("catalog: capability %q references unknown optional channel %q", r.Label, name)
			}
		}
	}

	if cols := c.Collisions(); len(cols) > 0 {
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, col.String())
		}
		return fmt.Errorf("catalog: alias collisions: %s", strings.Join(parts, "; "))
	}
	return nil
}

// ParseCatalog decodes and validates a YAML catalog document.
//
// Example:
//
//	required:
//	  - name: time
//	    aliases: [time, timestamp]
//	optional:
//	  - name: throttle
//	    aliases: [throttle, tps]
//	capabilities:
//	  - label: Throttle trace
//	    requires: [throttle]
func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog YAML: %w", err)
	}
	for i := range c.Required {
		c.Required[i].Name = strings.TrimSpace(c.Required[i].Name)
	}
	for i := range c.Optional {
		c.Optional[i].Name = strings.TrimSpace(c.Optional[i].Name)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Catalog{}, fmt.Errorf("catalog path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(b)
}
