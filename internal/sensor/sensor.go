// Package sensor reads the enclosure temperature shown in snapshot overlays.
package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/printfarm/enclosure-cam/internal/errors"
)

// DefaultW1Pattern matches DS18B20 probes on the 1-Wire bus.
const DefaultW1Pattern = "/sys/bus/w1/devices/28*/w1_slave"

// NotAvailable is rendered when no reading could be obtained.
const NotAvailable = "N/A"

// Reader returns the current temperature in degrees Celsius.
type Reader interface {
	Read(ctx context.Context) (float64, error)
}

// ErrNoSensor reports that no sensor device was found.
var ErrNoSensor = errors.Newf("no temperature sensor found").
	Component("sensor").
	Category(errors.CategoryNotFound).
	Build()

// ErrCRC reports a 1-Wire reading that failed its checksum.
var ErrCRC = errors.Newf("1-Wire reading failed CRC check").
	Component("sensor").
	Category(errors.CategorySensor).
	Build()

// W1Reader reads the first DS18B20 probe matching Pattern.
type W1Reader struct {
	Pattern string
}

// NewW1Reader returns a reader for pattern, or DefaultW1Pattern when empty.
func NewW1Reader(pattern string) *W1Reader {
	if pattern == "" {
		pattern = DefaultW1Pattern
	}
	return &W1Reader{Pattern: pattern}
}

func (r *W1Reader) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	matches, err := filepath.Glob(r.Pattern)
	if err != nil {
		return 0, errors.New(fmt.Errorf("bad sensor pattern %q: %w", r.Pattern, err)).
			Component("sensor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(matches) == 0 {
		return 0, ErrNoSensor
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return 0, errors.New(err).
			Component("sensor").
			Category(errors.CategoryFileIO).
			Context("device", matches[0]).
			Build()
	}
	defer func() { _ = f.Close() }()

	return parseW1Slave(f)
}

// parseW1Slave parses the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(r io.Reader) (float64, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return 0, errors.New(err).Component("sensor").Category(errors.CategoryFileIO).Build()
	}
	if len(lines) < 2 {
		return 0, errors.Newf("short 1-Wire reading: %d lines", len(lines)).
			Component("sensor").
			Category(errors.CategorySensor).
			Build()
	}
	if !strings.Contains(lines[0], "YES") {
		return 0, ErrCRC
	}

	idx := strings.Index(lines[1], "t=")
	if idx < 0 {
		return 0, errors.Newf("1-Wire reading has no temperature field").
			Component("sensor").
			Category(errors.CategorySensor).
			Build()
	}
	// The kernel reports whole millidegrees.
	milli, err := strconv.ParseInt(strings.TrimSpace(lines[1][idx+2:]), 10, 32)
	if err != nil {
		return 0, errors.New(fmt.Errorf("parse 1-Wire temperature: %w", err)).
			Component("sensor").
			Category(errors.CategorySensor).
			Build()
	}
	return float64(milli) / 1000.0, nil
}

// HostReader reads a host temperature sensor through gopsutil, for setups
// without a dedicated enclosure probe.
type HostReader struct {
	// Key is matched as a substring of the sensor key, e.g. "cpu_thermal".
	// Empty selects the first sensor reported.
	Key string

	sensors func(ctx context.Context) ([]host.TemperatureStat, error)
}

// NewHostReader returns a reader for the sensor whose key contains key.
func NewHostReader(key string) *HostReader {
	return &HostReader{Key: key, sensors: host.SensorsTemperaturesWithContext}
}

func (r *HostReader) Read(ctx context.Context) (float64, error) {
	stats, err := r.sensors(ctx)
	if err != nil && len(stats) == 0 {
		return 0, errors.New(fmt.Errorf("read host sensors: %w", err)).
			Component("sensor").
			Category(errors.CategorySensor).
			Build()
	}
	for _, s := range stats {
		if r.Key == "" || strings.Contains(s.SensorKey, r.Key) {
			return s.Temperature, nil
		}
	}
	return 0, ErrNoSensor
}

// CachedReader memoizes successful readings for a short time so several
// overlay cameras in one cycle share a single sensor conversion.
type CachedReader struct {
	next  Reader
	cache *cache.Cache
}

const cacheKey = "celsius"

// NewCachedReader wraps next. A non-positive ttl disables caching.
func NewCachedReader(next Reader, ttl time.Duration) Reader {
	if ttl <= 0 {
		return next
	}
	return &CachedReader{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (r *CachedReader) Read(ctx context.Context) (float64, error) {
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(float64), nil
	}
	c, err := r.next.Read(ctx)
	if err != nil {
		return 0, err
	}
	r.cache.SetDefault(cacheKey, c)
	return c, nil
}

// None is a reader that never has a reading.
type None struct{}

func (None) Read(context.Context) (float64, error) { return 0, ErrNoSensor }

// New builds the reader selected by source: "w1", "host" or "none".
func New(source, pattern, hostKey string, ttl time.Duration) (Reader, error) {
	var r Reader
	switch source {
	case "w1", "":
		r = NewW1Reader(pattern)
	case "host":
		r = NewHostReader(hostKey)
	case "none":
		return None{}, nil
	default:
		return nil, errors.Newf("unknown sensor source %q", source).
			Component("sensor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return NewCachedReader(r, ttl), nil
}

// Format renders the current reading with one decimal, e.g. "23.4°C", or
// NotAvailable when the reader fails.
func Format(ctx context.Context, r Reader) string {
	if r == nil {
		return NotAvailable
	}
	c, err := r.Read(ctx)
	if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
		return NotAvailable
	}
	return fmt.Sprintf("%.1f°C", c)
}
