// Package config loads the stack's tunables from an INI file (spec §6's
// operator-facing settings), following the same gopkg.in/ini.v1 load-and-
// read-keys pattern the object-dictionary parser in the CANopen example
// pack uses for its EDS files.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Transport holds the ISO-TP addressing and timing parameters (spec §6).
type Transport struct {
	TxID          uint32
	RxID          uint32
	PadByte       byte
	BlockSize     byte
	STmin         byte
	NAs           time.Duration
	NBs           time.Duration
	NCr           time.Duration
	MaxWaitFrames int
}

// Client holds the UDS client-level tunables.
type Client struct {
	P2Timeout           time.Duration
	P2StarTimeout       time.Duration
	MaxPendingResponses int
}

// KeepAlive holds the session coordinator's cadence.
type KeepAlive struct {
	Period time.Duration
}

// Serial holds the SLCAN adapter's connection parameters.
type Serial struct {
	Port    string
	Bitrate int
}

// Config is the full set of operator-facing settings, defaulted per
// spec §6 and overridden by whatever sections are present in the file.
type Config struct {
	Transport Transport
	Client    Client
	KeepAlive KeepAlive
	Serial    Serial
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		Transport: Transport{
			TxID:          0x7E0,
			RxID:          0x7E8,
			PadByte:       0xCC,
			BlockSize:     0,
			STmin:         0,
			NAs:           1000 * time.Millisecond,
			NBs:           1000 * time.Millisecond,
			NCr:           1000 * time.Millisecond,
			MaxWaitFrames: 10,
		},
		Client: Client{
			P2Timeout:           1000 * time.Millisecond,
			P2StarTimeout:       5000 * time.Millisecond,
			MaxPendingResponses: 10,
		},
		KeepAlive: KeepAlive{Period: 2000 * time.Millisecond},
		Serial:    Serial{Port: "", Bitrate: 500000},
	}
}

// Load reads an INI file and overlays it onto Default(). Any key the file
// omits keeps its default; the file itself may omit sections entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	iniFile, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
	}

	if section, err := iniFile.GetSection("transport"); err == nil {
		if err := applyTransport(section, &cfg.Transport); err != nil {
			return Config{}, err
		}
	}
	if section, err := iniFile.GetSection("client"); err == nil {
		if err := applyClient(section, &cfg.Client); err != nil {
			return Config{}, err
		}
	}
	if section, err := iniFile.GetSection("keepalive"); err == nil {
		if key, err := section.GetKey("period_ms"); err == nil {
			ms, err := key.Int()
			if err != nil {
				return Config{}, fmt.Errorf("config: keepalive.period_ms: %w", err)
			}
			cfg.KeepAlive.Period = time.Duration(ms) * time.Millisecond
		}
	}
	if section, err := iniFile.GetSection("serial"); err == nil {
		if key, err := section.GetKey("port"); err == nil {
			cfg.Serial.Port = key.Value()
		}
		if key, err := section.GetKey("bitrate"); err == nil {
			bitrate, err := key.Int()
			if err != nil {
				return Config{}, fmt.Errorf("config: serial.bitrate: %w", err)
			}
			cfg.Serial.Bitrate = bitrate
		}
	}

	return cfg, nil
}

func applyTransport(section *ini.Section, t *Transport) error {
	if key, err := section.GetKey("tx_id"); err == nil {
		v, err := key.Uint()
		if err != nil {
			return fmt.Errorf("config: transport.tx_id: %w", err)
		}
		t.TxID = uint32(v)
	}
	if key, err := section.GetKey("rx_id"); err == nil {
		v, err := key.Uint()
		if err != nil {
			return fmt.Errorf("config: transport.rx_id: %w", err)
		}
		t.RxID = uint32(v)
	}
	if key, err := section.GetKey("pad_byte"); err == nil {
		v, err := key.Uint()
		if err != nil {
			return fmt.Errorf("config: transport.pad_byte: %w", err)
		}
		t.PadByte = byte(v)
	}
	if key, err := section.GetKey("block_size"); err == nil {
		v, err := key.Uint()
		if err != nil {
			return fmt.Errorf("config: transport.block_size: %w", err)
		}
		t.BlockSize = byte(v)
	}
	if key, err := section.GetKey("stmin"); err == nil {
		v, err := key.Uint()
		if err != nil {
			return fmt.Errorf("config: transport.stmin: %w", err)
		}
		t.STmin = byte(v)
	}
	if key, err := section.GetKey("nas_ms"); err == nil {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: transport.nas_ms: %w", err)
		}
		t.NAs = time.Duration(ms) * time.Millisecond
	}
	if key, err := section.GetKey("nbs_ms"); err == nil {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: transport.nbs_ms: %w", err)
		}
		t.NBs = time.Duration(ms) * time.Millisecond
	}
	if key, err := section.GetKey("ncr_ms"); err == nil {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: transport.ncr_ms: %w", err)
		}
		t.NCr = time.Duration(ms) * time.Millisecond
	}
	if key, err := section.GetKey("max_wait_frames"); err == nil {
		v, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: transport.max_wait_frames: %w", err)
		}
		t.MaxWaitFrames = v
	}
	return nil
}

func applyClient(section *ini.Section, c *Client) error {
	if key, err := section.GetKey("p2_timeout_ms"); err == nil {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: client.p2_timeout_ms: %w", err)
		}
		c.P2Timeout = time.Duration(ms) * time.Millisecond
	}
	if key, err := section.GetKey("p2_star_timeout_ms"); err == nil {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: client.p2_star_timeout_ms: %w", err)
		}
		c.P2StarTimeout = time.Duration(ms) * time.Millisecond
	}
	if key, err := section.GetKey("max_pending_responses"); err == nil {
		v, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: client.max_pending_responses: %w", err)
		}
		c.MaxPendingResponses = v
	}
	return nil
}
