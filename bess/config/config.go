// Package config is the ambient JSON configuration layer for cmd/bessd:
// one flat file covering the battery/price/home/horizon settings consumed
// by bess/settings plus the adapter and logging knobs the binary itself
// needs. Adapted from the teacher's scheduler.Config, including its
// custom duration marshaling and exhaustive Validate.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/devskill-org/bess-scheduler/bess/settings"
)

// Config is the top-level configuration loaded from disk.
type Config struct {
	// Horizon
	PeriodsPerDay int     `json:"periods_per_day"`
	PeriodHours   float64 `json:"period_hours"`

	// Battery
	BatteryCapacityKWh         float64 `json:"battery_capacity_kwh"`
	BatteryMinSOC              float64 `json:"battery_min_soc"`
	BatteryMaxSOC              float64 `json:"battery_max_soc"`
	BatteryMaxChargePowerKW    float64 `json:"battery_max_charge_power_kw"`
	BatteryMaxDischargePowerKW float64 `json:"battery_max_discharge_power_kw"`
	BatteryEfficiencyCharge    float64 `json:"battery_efficiency_charge"`
	BatteryEfficiencyDischarge float64 `json:"battery_efficiency_discharge"`
	BatteryCycleCostPerKWh     float64 `json:"battery_cycle_cost_per_kwh"`
	BatteryMinActionProfit     float64 `json:"battery_min_action_profit_threshold"`
	BatteryChargingPowerRate   float64 `json:"battery_charging_power_rate"`

	// Price
	PriceMarkupRate      float64  `json:"price_markup_rate"`
	PriceVATMultiplier   float64  `json:"price_vat_multiplier"`
	PriceAdditionalCosts float64  `json:"price_additional_costs"`
	PriceTaxReduction    float64  `json:"price_tax_reduction"`
	PriceUseActualPrice  bool     `json:"price_use_actual_price"`
	PriceArea            string   `json:"price_area"`
	PriceAllowedAreas    []string `json:"price_allowed_areas"`

	// Home
	HomeMaxFuseCurrentA float64 `json:"home_max_fuse_current_a"`
	HomeVoltageV        float64 `json:"home_voltage_v"`
	HomeSafetyMargin    float64 `json:"home_safety_margin"`

	// ENTSO-E price feed
	SecurityToken       string        `json:"security_token"`
	EntsoeURLFormat     string        `json:"entsoe_url_format"`
	EntsoeLocation      string        `json:"entsoe_location"`
	EntsoeAPITimeout    time.Duration `json:"entsoe_api_timeout"`
	EntsoeAPIRetries    int           `json:"entsoe_api_retries"`

	// Plant controller
	PlantModbusAddress string `json:"plant_modbus_address"`
	PlantModbusIsRTU   bool   `json:"plant_modbus_is_rtu"`
	PlantModbusBaudRate int   `json:"plant_modbus_baud_rate"`

	// Persistence
	PostgresConnString string `json:"postgres_conn_string"`

	// Weather and solar forecast
	Latitude              float64       `json:"latitude"`
	Longitude             float64       `json:"longitude"`
	UserAgent             string        `json:"user_agent"`
	WeatherCacheDuration  time.Duration `json:"weather_cache_duration"`
	SolarPeakPowerKW      float64       `json:"solar_peak_power_kw"`

	// Consumption forecast
	ConsumptionLookbackDays int     `json:"consumption_lookback_days"`
	ConsumptionFallbackKWh  float64 `json:"consumption_fallback_kwh"`

	// Scheduling
	ScheduleUpdateInterval time.Duration `json:"schedule_update_interval"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Operations
	DryRun          bool `json:"dry_run"`
	HealthCheckPort int  `json:"health_check_port"`
}

// Default returns a configuration with sane defaults for an hourly-period
// residential deployment.
func Default() *Config {
	return &Config{
		PeriodsPerDay: 24,
		PeriodHours:   1.0,

		BatteryCapacityKWh:         24.0,
		BatteryMinSOC:              10,
		BatteryMaxSOC:              100,
		BatteryMaxChargePowerKW:    12.0,
		BatteryMaxDischargePowerKW: 12.0,
		BatteryEfficiencyCharge:    0.96,
		BatteryEfficiencyDischarge: 0.96,
		BatteryCycleCostPerKWh:     0.05,
		BatteryMinActionProfit:     0.01,
		BatteryChargingPowerRate:   100,

		PriceMarkupRate:     0,
		PriceVATMultiplier:  1.25,
		PriceAdditionalCosts: 0,
		PriceTaxReduction:   0,
		PriceUseActualPrice: false,
		PriceArea:           "SE4",
		PriceAllowedAreas:   []string{"SE1", "SE2", "SE3", "SE4"},

		HomeMaxFuseCurrentA: 25,
		HomeVoltageV:        230,
		HomeSafetyMargin:    0.9,

		EntsoeURLFormat:  "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=%[1]s&in_Domain=%[1]s&periodStart=%[2]s&periodEnd=%[3]s&securityToken=%[4]s",
		EntsoeLocation:   "CET",
		EntsoeAPITimeout: 30 * time.Second,
		EntsoeAPIRetries: 2,

		PlantModbusAddress:  "",
		PlantModbusIsRTU:    false,
		PlantModbusBaudRate: 9600,

		PostgresConnString: "",

		Latitude:             59.9139,
		Longitude:            10.7522,
		UserAgent:            "bess-scheduler/1.0 (operator@example.com)",
		WeatherCacheDuration: time.Hour,
		SolarPeakPowerKW:     10.0,

		ConsumptionLookbackDays: 7,
		ConsumptionFallbackKWh:  1.0,

		ScheduleUpdateInterval: 15 * time.Minute,

		LogLevel:        "info",
		LogFormat:       "text",
		DryRun:          false,
		HealthCheckPort: 0,
	}
}

// Load reads and validates a configuration file.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader reads and validates configuration JSON from r, starting
// from Default so unset fields keep sensible values.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return c, nil
}

// Save writes the configuration to filename as indented JSON.
func (c *Config) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("config: create: %w", err)
	}
	defer f.Close()
	return c.SaveToWriter(f)
}

// SaveToWriter writes the configuration to w as indented JSON.
func (c *Config) SaveToWriter(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// Validate checks the configuration for obviously invalid values, failing
// fast at startup rather than letting an optimizer run on nonsense.
func (c *Config) Validate() error {
	if c.PeriodsPerDay != 23 && c.PeriodsPerDay != 24 && c.PeriodsPerDay != 25 &&
		c.PeriodsPerDay != 92 && c.PeriodsPerDay != 96 && c.PeriodsPerDay != 100 {
		return fmt.Errorf("periods_per_day=%d is not an accepted hourly or quarterly period count", c.PeriodsPerDay)
	}
	if c.PeriodHours <= 0 {
		return fmt.Errorf("period_hours must be positive, got %v", c.PeriodHours)
	}
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive, got %v", c.BatteryCapacityKWh)
	}
	if c.BatteryMaxChargePowerKW <= 0 {
		return fmt.Errorf("battery_max_charge_power_kw must be positive, got %v", c.BatteryMaxChargePowerKW)
	}
	if c.BatteryMaxDischargePowerKW <= 0 {
		return fmt.Errorf("battery_max_discharge_power_kw must be positive, got %v", c.BatteryMaxDischargePowerKW)
	}
	if c.PriceVATMultiplier <= 0 {
		return fmt.Errorf("price_vat_multiplier must be positive, got %v", c.PriceVATMultiplier)
	}
	if c.HomeMaxFuseCurrentA <= 0 {
		return fmt.Errorf("home_max_fuse_current_a must be positive, got %v", c.HomeMaxFuseCurrentA)
	}
	if c.HomeVoltageV <= 0 {
		return fmt.Errorf("home_voltage_v must be positive, got %v", c.HomeVoltageV)
	}
	if c.SecurityToken == "" {
		return fmt.Errorf("security_token cannot be empty")
	}
	if c.EntsoeURLFormat == "" {
		return fmt.Errorf("entsoe_url_format cannot be empty")
	}
	if c.EntsoeAPITimeout <= 0 {
		return fmt.Errorf("entsoe_api_timeout must be positive, got %s", c.EntsoeAPITimeout)
	}
	if c.PlantModbusAddress == "" {
		return fmt.Errorf("plant_modbus_address cannot be empty")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", c.Longitude)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}
	if c.WeatherCacheDuration <= 0 {
		return fmt.Errorf("weather_cache_duration must be positive, got %s", c.WeatherCacheDuration)
	}
	if c.ConsumptionLookbackDays <= 0 {
		return fmt.Errorf("consumption_lookback_days must be positive, got %d", c.ConsumptionLookbackDays)
	}
	if c.ScheduleUpdateInterval <= 0 {
		return fmt.Errorf("schedule_update_interval must be positive, got %s", c.ScheduleUpdateInterval)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got %d", c.HealthCheckPort)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log_format: %s, must be one of: text, json", c.LogFormat)
	}
	return nil
}

// ToSettings builds the immutable settings.Settings the manager runs on.
func (c *Config) ToSettings() (settings.Settings, error) {
	return settings.New(
		settings.Battery{
			TotalCapacityKWh:         c.BatteryCapacityKWh,
			MinSOC:                   c.BatteryMinSOC,
			MaxSOC:                   c.BatteryMaxSOC,
			MaxChargePowerKW:         c.BatteryMaxChargePowerKW,
			MaxDischargePowerKW:      c.BatteryMaxDischargePowerKW,
			EfficiencyCharge:         c.BatteryEfficiencyCharge,
			EfficiencyDischarge:      c.BatteryEfficiencyDischarge,
			CycleCostPerKWh:          c.BatteryCycleCostPerKWh,
			MinActionProfitThreshold: c.BatteryMinActionProfit,
			ChargingPowerRate:        c.BatteryChargingPowerRate,
		},
		settings.Price{
			MarkupRate:      c.PriceMarkupRate,
			VATMultiplier:   c.PriceVATMultiplier,
			AdditionalCosts: c.PriceAdditionalCosts,
			TaxReduction:    c.PriceTaxReduction,
			UseActualPrice:  c.PriceUseActualPrice,
			Area:            c.PriceArea,
			AllowedAreas:    c.PriceAllowedAreas,
		},
		settings.Home{
			MaxFuseCurrentA: c.HomeMaxFuseCurrentA,
			VoltageV:        c.HomeVoltageV,
			SafetyMargin:    c.HomeSafetyMargin,
		},
		settings.Horizon{
			N:       c.PeriodsPerDay,
			DTHours: c.PeriodHours,
		},
	)
}

// MarshalJSON renders duration fields as human-readable strings (e.g.
// "30s") rather than raw nanosecond counts.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		EntsoeAPITimeout       string `json:"entsoe_api_timeout"`
		WeatherCacheDuration   string `json:"weather_cache_duration"`
		ScheduleUpdateInterval string `json:"schedule_update_interval"`
	}{
		Alias:                  (*Alias)(c),
		EntsoeAPITimeout:       c.EntsoeAPITimeout.String(),
		WeatherCacheDuration:   c.WeatherCacheDuration.String(),
		ScheduleUpdateInterval: c.ScheduleUpdateInterval.String(),
	})
}

// UnmarshalJSON parses duration fields from human-readable strings.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		EntsoeAPITimeout       string `json:"entsoe_api_timeout"`
		WeatherCacheDuration   string `json:"weather_cache_duration"`
		ScheduleUpdateInterval string `json:"schedule_update_interval"`
	}{Alias: (*Alias)(c)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.EntsoeAPITimeout != "" {
		if c.EntsoeAPITimeout, err = time.ParseDuration(aux.EntsoeAPITimeout); err != nil {
			return fmt.Errorf("invalid entsoe_api_timeout: %w", err)
		}
	}
	if aux.WeatherCacheDuration != "" {
		if c.WeatherCacheDuration, err = time.ParseDuration(aux.WeatherCacheDuration); err != nil {
			return fmt.Errorf("invalid weather_cache_duration: %w", err)
		}
	}
	if aux.ScheduleUpdateInterval != "" {
		if c.ScheduleUpdateInterval, err = time.ParseDuration(aux.ScheduleUpdateInterval); err != nil {
			return fmt.Errorf("invalid schedule_update_interval: %w", err)
		}
	}
	return nil
}
