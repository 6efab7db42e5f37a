// Package history records capability samples in InfluxDB for long-term
// graphing. It is optional; when disabled the daemon runs without it.
package history

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

type Config struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Token == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("history: url, token, org and bucket are required when enabled")
	}
	return nil
}

// Recorder writes capability samples through the non-blocking write API;
// points are batched and flushed asynchronously.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      zerolog.Logger
}

// Connect opens the InfluxDB connection and verifies it with a ping.
func Connect(cfg Config, log zerolog.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("history: server not healthy")
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.With().Str("component", "history").Logger(),
	}
	go r.drainErrors(r.writeAPI.Errors())
	return r, nil
}

// Record queues one capability sample. Non-blocking.
func (r *Recorder) Record(deviceID, capability string, value float64) {
	point := write.NewPoint(
		"capability",
		map[string]string{
			"device_id":  deviceID,
			"capability": capability,
		},
		map[string]interface{}{"value": value},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

func (r *Recorder) drainErrors(errs <-chan error) {
	for err := range errs {
		r.log.Warn().Err(err).Msg("history write failed")
	}
}

// Close flushes pending points and shuts the client down.
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}
