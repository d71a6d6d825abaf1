package rules

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CongestionThresholds tunes R1.
type CongestionThresholds struct {
	QueueThreshold float64 `yaml:"queue_threshold"`
	CyclesRequired int     `yaml:"cycles_required"`
	HighQueue      float64 `yaml:"high_queue"`
}

// InventoryThresholds tunes R2.
type InventoryThresholds struct {
	MinCharged int `yaml:"min_charged_batteries"`
	HighBelow  int `yaml:"high_below"`
}

// HardwareThresholds tunes R4.
type HardwareThresholds struct {
	FaultCount     int `yaml:"fault_count_threshold"`
	HighFaultCount int `yaml:"high_fault_count"`
	WindowMinutes  int `yaml:"time_window_minutes"`
}

// DemandThresholds tunes R5.
type DemandThresholds struct {
	SpikeMultiplier       float64 `yaml:"spike_multiplier"`
	BaselineWindowMinutes int     `yaml:"baseline_window_minutes"`
	HighSpikePercent      float64 `yaml:"high_spike_percent"`
}

// OptimizeThresholds tunes R6.
type OptimizeThresholds struct {
	Utilization     float64 `yaml:"utilization_threshold"`
	WindowMinutes   int     `yaml:"time_window_minutes"`
	DefaultCapacity float64 `yaml:"default_capacity"`
}

// Thresholds holds every tunable rule parameter.
type Thresholds struct {
	Congestion CongestionThresholds `yaml:"congestion"`
	Inventory  InventoryThresholds  `yaml:"low_inventory"`
	Hardware   HardwareThresholds   `yaml:"hardware"`
	Demand     DemandThresholds     `yaml:"demand"`
	Optimize   OptimizeThresholds   `yaml:"optimize"`
}

// DefaultThresholds returns the stock operating limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Congestion: CongestionThresholds{QueueThreshold: 12, CyclesRequired: 2, HighQueue: 20},
		Inventory:  InventoryThresholds{MinCharged: 8, HighBelow: 3},
		Hardware:   HardwareThresholds{FaultCount: 3, HighFaultCount: 5, WindowMinutes: 30},
		Demand:     DemandThresholds{SpikeMultiplier: 1.5, BaselineWindowMinutes: 60, HighSpikePercent: 100},
		Optimize:   OptimizeThresholds{Utilization: 0.2, WindowMinutes: 60, DefaultCapacity: 100},
	}
}

// Validate rejects thresholds the rules cannot work with.
func (t Thresholds) Validate() error {
	switch {
	case t.Congestion.CyclesRequired < 1:
		return errors.New("rules: congestion.cycles_required must be >= 1")
	case t.Hardware.WindowMinutes <= 0:
		return errors.New("rules: hardware.time_window_minutes must be > 0")
	case t.Demand.SpikeMultiplier <= 0:
		return errors.New("rules: demand.spike_multiplier must be > 0")
	case t.Demand.BaselineWindowMinutes <= 0:
		return errors.New("rules: demand.baseline_window_minutes must be > 0")
	case t.Optimize.WindowMinutes <= 0:
		return errors.New("rules: optimize.time_window_minutes must be > 0")
	case t.Optimize.DefaultCapacity <= 0:
		return errors.New("rules: optimize.default_capacity must be > 0")
	}
	return nil
}

// Config is the thresholds file: defaults plus per-station overrides.
type Config struct {
	Defaults Thresholds            `yaml:"defaults"`
	Stations map[string]Thresholds `yaml:"stations"`
}

// DefaultConfig has stock thresholds and no overrides.
func DefaultConfig() Config {
	return Config{Defaults: DefaultThresholds()}
}

// LoadConfig reads a thresholds file. An empty path yields DefaultConfig.
// Fields left out of the file keep their stock values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("rules: read %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("rules: parse %s: %w", path, err)
	}
	cfg.Defaults = mergeThresholds(cfg.Defaults, file.Defaults)
	cfg.Stations = file.Stations
	if err := cfg.Defaults.Validate(); err != nil {
		return DefaultConfig(), err
	}
	for stationID := range cfg.Stations {
		if err := cfg.ForStation(stationID).Validate(); err != nil {
			return DefaultConfig(), fmt.Errorf("station %s: %w", stationID, err)
		}
	}
	return cfg, nil
}

// ForStation returns defaults with the station's overrides applied.
func (c Config) ForStation(stationID string) Thresholds {
	if c.Stations != nil {
		if override, ok := c.Stations[stationID]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeThresholds(base, override Thresholds) Thresholds {
	if override.Congestion.QueueThreshold != 0 {
		base.Congestion.QueueThreshold = override.Congestion.QueueThreshold
	}
	if override.Congestion.CyclesRequired != 0 {
		base.Congestion.CyclesRequired = override.Congestion.CyclesRequired
	}
	if override.Congestion.HighQueue != 0 {
		base.Congestion.HighQueue = override.Congestion.HighQueue
	}
	if override.Inventory.MinCharged != 0 {
		base.Inventory.MinCharged = override.Inventory.MinCharged
	}
	if override.Inventory.HighBelow != 0 {
		base.Inventory.HighBelow = override.Inventory.HighBelow
	}
	if override.Hardware.FaultCount != 0 {
		base.Hardware.FaultCount = override.Hardware.FaultCount
	}
	if override.Hardware.HighFaultCount != 0 {
		base.Hardware.HighFaultCount = override.Hardware.HighFaultCount
	}
	if override.Hardware.WindowMinutes != 0 {
		base.Hardware.WindowMinutes = override.Hardware.WindowMinutes
	}
	if override.Demand.SpikeMultiplier != 0 {
		base.Demand.SpikeMultiplier = override.Demand.SpikeMultiplier
	}
	if override.Demand.BaselineWindowMinutes != 0 {
		base.Demand.BaselineWindowMinutes = override.Demand.BaselineWindowMinutes
	}
	if override.Demand.HighSpikePercent != 0 {
		base.Demand.HighSpikePercent = override.Demand.HighSpikePercent
	}
	if override.Optimize.Utilization != 0 {
		base.Optimize.Utilization = override.Optimize.Utilization
	}
	if override.Optimize.WindowMinutes != 0 {
		base.Optimize.WindowMinutes = override.Optimize.WindowMinutes
	}
	if override.Optimize.DefaultCapacity != 0 {
		base.Optimize.DefaultCapacity = override.Optimize.DefaultCapacity
	}
	return base
}
