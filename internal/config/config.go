// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log        LogConfig         `mapstructure:"log"`
	Device     DeviceConfig      `mapstructure:"device"`
	Update     UpdateConfig      `mapstructure:"update"`
	Bootloader BootloaderConfig  `mapstructure:"bootloader"`
	Transports []TransportConfig `mapstructure:"transports"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// DeviceConfig defines the block device holding the update slot
type DeviceConfig struct {
	Type        string     `mapstructure:"type"` // "memory", "file", "mmap"
	Path        string     `mapstructure:"path"` // File path for "file/mmap" type
	Size        uint64     `mapstructure:"size"`
	ReadSize    uint64     `mapstructure:"read_size"`
	ProgramSize uint64     `mapstructure:"program_size"`
	EraseSize   uint64     `mapstructure:"erase_size"`
	EraseValue  int        `mapstructure:"erase_value"` // -1 if erased content is undefined
	Slot        SlotConfig `mapstructure:"slot"`
}

// SlotConfig selects the secondary slot inside the device. A zero Size means the whole device.
type SlotConfig struct {
	Offset uint64 `mapstructure:"offset"`
	Size   uint64 `mapstructure:"size"`
}

// UpdateConfig defines update session behaviour
type UpdateConfig struct {
	EraseChunk uint64        `mapstructure:"erase_chunk"` // 0 means device erase size
	ResetDelay time.Duration `mapstructure:"reset_delay"`
}

// BootloaderConfig defines where the boot state is kept
type BootloaderConfig struct {
	Type   string `mapstructure:"type"`   // "memory", "file", "sql"
	Path   string `mapstructure:"path"`   // Used if Type is "file"
	Driver string `mapstructure:"driver"` // Used if Type is "sql"
	DSN    string `mapstructure:"dsn"`    // Used if Type is "sql"
}

// TransportConfig defines an upstream the update is streamed through
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "tcp", "serial", "http"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "tcp"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "serial"
	Http   HttpConfig   `mapstructure:"http"`   // Used if Type is "http"
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:7070"
}

// HttpConfig defines HTTP settings
type HttpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:8080"
}

// SerialConfig defines serial line settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// DefaultTcpAddress is used when no transport is configured.
const DefaultTcpAddress = "127.0.0.1:7070"

// LoadConfig loads configuration from file. Without a config file the defaults
// describe an in-memory device served over TCP.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/fotad/")
		v.AddConfigPath("$HOME/.fotad")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("device.type", "memory")
	v.SetDefault("device.size", 0x80000)
	v.SetDefault("device.read_size", 1)
	v.SetDefault("device.program_size", 1)
	v.SetDefault("device.erase_size", 0x1000)
	v.SetDefault("device.erase_value", 0xFF)
	v.SetDefault("update.reset_delay", 250*time.Millisecond)
	v.SetDefault("bootloader.type", "memory")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	config.Device.Type = strings.ToLower(config.Device.Type)
	config.Bootloader.Type = strings.ToLower(config.Bootloader.Type)
	if config.Bootloader.Type == "sql" && config.Bootloader.Driver == "" {
		config.Bootloader.Driver = "sqlite3"
	}

	if len(config.Transports) == 0 {
		config.Transports = []TransportConfig{{Type: "tcp", Tcp: TcpConfig{Address: DefaultTcpAddress}}}
	}
	for i := range config.Transports {
		fixupSerial(&config.Transports[i].Serial)
	}

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 115200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}
