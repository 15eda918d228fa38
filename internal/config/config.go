package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateRandom asks the controller to pick a random trading day from the loaded
// dataset's range, using the run seed so the choice is reproducible.
const DateRandom = "random"

type Simulation struct {
	Mode                   string  `yaml:"mode"`       // replay | live
	Date                   string  `yaml:"date"`       // YYYY-MM-DD or "random"
	StartTime              string  `yaml:"start_time"` // HH:MM, session-relative UTC
	EndTime                string  `yaml:"end_time"`
	Speed                  float64 `yaml:"speed"` // 0 = instant mode
	TickGranularitySeconds int     `yaml:"tick_granularity_seconds"`
	Seed                   int64   `yaml:"seed"`
}

type Slippage struct {
	Model  string  `yaml:"model"` // fixed_pct | fixed_amount
	Pct    float64 `yaml:"pct"`
	Amount float64 `yaml:"amount"`
	MinBps int     `yaml:"min_bps"` // optional jitter range
	MaxBps int     `yaml:"max_bps"`
}

type Broker struct {
	// pointer so an explicit zero in the file is distinguishable from unset
	StartingCash        *float64 `yaml:"starting_cash"`
	Slippage            Slippage `yaml:"slippage"`
	CommissionPerOrder  float64  `yaml:"commission_per_order"`
	CommissionPerShare  float64  `yaml:"commission_per_share"`
	ShortSellingEnabled bool     `yaml:"short_selling_enabled"`
}

type Data struct {
	News    string `yaml:"news"`
	Filings string `yaml:"filings"`
	Bars    string `yaml:"bars"`
}

type Output struct {
	Dir string `yaml:"dir"`
}

type Root struct {
	Simulation Simulation `yaml:"simulation"`
	Broker     Broker     `yaml:"broker"`
	Data       Data       `yaml:"data"`
	Output     Output     `yaml:"output"`
}

// ValidationError is one invalid run parameter. Validation collects every
// problem instead of stopping at the first.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a YAML config and fills defaults for unset fields. Speed is left
// alone: zero is meaningful (instant mode).
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills zero-valued fields. Exported so programmatic configs
// get the same treatment as file-loaded ones.
func (c *Root) ApplyDefaults() {
	if c.Simulation.Mode == "" {
		c.Simulation.Mode = "replay"
	}
	if c.Simulation.StartTime == "" {
		c.Simulation.StartTime = "09:30"
	}
	if c.Simulation.EndTime == "" {
		c.Simulation.EndTime = "16:00"
	}
	if c.Simulation.TickGranularitySeconds == 0 {
		c.Simulation.TickGranularitySeconds = 60
	}
	if c.Broker.StartingCash == nil {
		cash := 10000.0
		c.Broker.StartingCash = &cash
	}
	if c.Broker.Slippage.Model == "" {
		c.Broker.Slippage.Model = "fixed_pct"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "data/runs"
	}
}

// Validate collects all configuration problems. An empty slice means the
// config is runnable.
func (c Root) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Simulation.Mode != "replay" && c.Simulation.Mode != "live" {
		add("simulation.mode", fmt.Sprintf("unknown mode %q", c.Simulation.Mode))
	}
	if c.Simulation.Mode == "replay" {
		if c.Simulation.Date == "" {
			add("simulation.date", "required in replay mode (date or \"random\")")
		} else if c.Simulation.Date != DateRandom {
			if _, err := time.Parse("2006-01-02", c.Simulation.Date); err != nil {
				add("simulation.date", fmt.Sprintf("not YYYY-MM-DD or %q: %v", DateRandom, err))
			}
		}
	}
	start, serr := parseClockTime(c.Simulation.StartTime)
	if serr != nil {
		add("simulation.start_time", serr.Error())
	}
	end, eerr := parseClockTime(c.Simulation.EndTime)
	if eerr != nil {
		add("simulation.end_time", eerr.Error())
	}
	if serr == nil && eerr == nil && !end.After(start) {
		add("simulation.end_time", "end time must be after start time")
	}
	if c.Simulation.Speed < 0 {
		add("simulation.speed", "speed multiplier must be >= 0")
	}
	if c.Simulation.TickGranularitySeconds <= 0 {
		add("simulation.tick_granularity_seconds", "must be positive")
	}
	if c.Broker.StartingCash != nil && *c.Broker.StartingCash < 0 {
		add("broker.starting_cash", "must be >= 0")
	}
	switch c.Broker.Slippage.Model {
	case "fixed_pct", "fixed_amount":
	default:
		add("broker.slippage.model", fmt.Sprintf("unknown slippage model %q", c.Broker.Slippage.Model))
	}
	if c.Broker.Slippage.Pct < 0 || c.Broker.Slippage.Pct > 100 {
		add("broker.slippage.pct", "must be in [0,100]")
	}
	if c.Broker.Slippage.Amount < 0 {
		add("broker.slippage.amount", "must be >= 0")
	}
	if c.Broker.Slippage.MinBps < 0 || c.Broker.Slippage.MaxBps < c.Broker.Slippage.MinBps {
		add("broker.slippage", "bps jitter range must satisfy 0 <= min_bps <= max_bps")
	}
	if c.Broker.CommissionPerOrder < 0 || c.Broker.CommissionPerShare < 0 {
		add("broker.commission", "commissions must be >= 0")
	}
	if c.Output.Dir != "" {
		if err := os.MkdirAll(c.Output.Dir, 0755); err != nil {
			add("output.dir", fmt.Sprintf("not creatable: %v", err))
		}
	}
	return errs
}

// SessionWindow resolves the configured session times against a date,
// returning UTC start and end instants.
func (c Root) SessionWindow(date time.Time) (time.Time, time.Time, error) {
	start, err := parseClockTime(c.Simulation.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseClockTime(c.Simulation.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	d := date.UTC()
	at := func(t time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	}
	return at(start), at(end), nil
}

func parseClockTime(s string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("not HH:MM: %v", err)
	}
	return t, nil
}
