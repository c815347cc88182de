package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
)

const testConfig = `
[server]
httpAddress = "localhost:9000"
corsDomains = ["https://example.org"]
temp_dir = "tmp"

[logging]
logfile = "logs/planar.log"
max_log_size = 100
max_log_age = 7
level = "warning"

[cache]
chunk_size = "64MB"
meta_entries = 500
max_pinned = 8

[readers]
disabled = ["gcs"]
allow_open = true

[memo]
path = "memo"

[kafka]
servers = ["kafka1:9092"]

[bioformats]
endpoint = "http://decoder:8000/api"
timeout_secs = 30
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(fname, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(fname)
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.HTTPAddress != "localhost:9000" || c.WebServer() != DefaultHost+":9000" {
		t.Errorf("bad server address %q / %q", c.Server.HTTPAddress, c.WebServer())
	}
	if c.Server.ShutdownDelay != 5 {
		t.Errorf("expected default shutdown delay kept, got %d", c.Server.ShutdownDelay)
	}
	if c.Logging.Logfile != filepath.Join(dir, "logs", "planar.log") || c.Logging.MaxSize != 100 || c.Logging.Level != "warning" {
		t.Errorf("bad logging config %+v", c.Logging)
	}
	if c.Memo.Path != filepath.Join(dir, "memo") || c.Server.TempDir != filepath.Join(dir, "tmp") {
		t.Errorf("relative paths not converted: %q %q", c.Memo.Path, c.Server.TempDir)
	}
	n, err := c.ChunkCacheBytes()
	if err != nil || n != 64*1024*1024 {
		t.Errorf("expected 64MiB chunk cache, got %d %v", n, err)
	}
	fc, err := c.Formats()
	if err != nil {
		t.Fatal(err)
	}
	if fc.BioformatsEndpoint != "http://decoder:8000/api" || fc.BioformatsTimeout.Seconds() != 30 {
		t.Errorf("bad bioformats config %+v", fc)
	}
	if len(fc.Disabled) != 1 || fc.Disabled[0] != "gcs" || !c.Readers.AllowOpen {
		t.Errorf("bad readers config %+v", c.Readers)
	}
	if c.Cache.MaxPinned != 8 || DefaultConfig().Cache.MaxPinned != DefaultMaxPinned {
		t.Errorf("bad pinned reader limit %d", c.Cache.MaxPinned)
	}
	if fc.Store.Chunks == nil || fc.Store.MetaEntries != 500 {
		t.Errorf("bad store options %+v", fc.Store)
	}
	if len(c.Kafka.Servers) != 1 {
		t.Errorf("bad kafka config %+v", c.Kafka)
	}

	if _, err := LoadConfig(""); err == nil {
		t.Errorf("expected error for empty config filename")
	}
	c.Cache.ChunkSize = "lots"
	if _, err := c.ChunkCacheBytes(); err == nil {
		t.Errorf("expected error for bad chunk size")
	}
}

func TestActivityLog(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewAsyncProducer(t, config)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var activity map[string]interface{}
		if err := json.Unmarshal(val, &activity); err != nil {
			return err
		}
		if activity["uri"] != "/api/readers" {
			t.Errorf("unexpected activity %v", activity)
		}
		return nil
	})

	a := newActivityLog(producer, "planar activity/host")
	if a.Topic() != "planar-activity-host" {
		t.Errorf("expected sanitized topic, got %q", a.Topic())
	}
	a.Log(map[string]interface{}{"uri": "/api/readers", "method": "GET"})
	msg := <-producer.Successes()
	if msg.Topic != "planar-activity-host" {
		t.Errorf("message sent to %q", msg.Topic)
	}
	a.Close()

	var none *ActivityLog
	none.Log(map[string]interface{}{"ignored": true})
	none.Close()
}
