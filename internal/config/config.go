package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ISSConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

const (
	_issBaseURLDefault = "https://iss.moex.com"
	_issTimeoutDefault = 10 * time.Second
	_issRPMDefault     = 100
)

func (c *ISSConfig) Setup() error {
	if c.BaseURL == "" {
		c.BaseURL = _issBaseURLDefault
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		c.Timeout = _issTimeoutDefault
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = _issRPMDefault
	}

	return nil
}

type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	RepeatEvery  int           `yaml:"repeat_every"` // repeat alerts fire every Nth tick
	Timezone     string        `yaml:"timezone"`
}

const (
	_tickIntervalDefault = 1 * time.Hour
	_repeatEveryDefault  = 24
	_timezoneDefault     = "Europe/Moscow"
)

func (c *SchedulerConfig) Setup() error {
	if c.TickInterval <= 0 {
		c.TickInterval = _tickIntervalDefault
	}
	if c.RepeatEvery <= 0 {
		c.RepeatEvery = _repeatEveryDefault
	}
	if c.Timezone == "" {
		c.Timezone = _timezoneDefault
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: bad scheduler timezone", err)
	}

	return nil
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	From string `yaml:"from"`

	// credentials come from env, never from the file
	Login    string `yaml:"-"`
	Password string `yaml:"-"`
}

const (
	_smtpHostDefault = "smtp.gmail.com"
	_smtpPortDefault = 587
)

func (c *SMTPConfig) Setup() error {
	if c.Host == "" {
		c.Host = _smtpHostDefault
	}
	if c.Port <= 0 {
		c.Port = _smtpPortDefault
	}

	c.Login = os.Getenv("MAIL_LOGIN")
	c.Password = os.Getenv("MAIL_PASSWORD")
	if c.From == "" {
		c.From = c.Login
	}
	if c.Login == "" {
		return fmt.Errorf("empty mail login")
	}

	return nil
}

type EngineConfig struct {
	ISS       ISSConfig       `yaml:"iss"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

func (c *EngineConfig) ValidateAndSetup() error {
	if err := c.ISS.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup iss", err)
	}
	if err := c.Scheduler.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup scheduler", err)
	}
	if err := c.SMTP.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup smtp", err)
	}

	return nil
}

func LoadEngineConfig(filename string) (EngineConfig, error) {
	var cfg EngineConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
