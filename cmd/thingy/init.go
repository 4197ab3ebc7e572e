package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/thingy-control/internal/defaults"
)

// envTemplate holds the secrets the example config references. It is
// loaded from next to config.yaml at startup.
const envTemplate = `# Secrets referenced from config.yaml as ${VAR}.
# Variables already set in the environment take precedence.
THINGY_MQTT_USERNAME=
THINGY_MQTT_PASSWORD=
THINGY_INFLUX_TOKEN=
`

// runInit scaffolds a working directory: the data directory, an
// example config.yaml and a .env for broker and InfluxDB secrets.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Thingy in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}
	fmt.Fprintf(w, "  ✓ %s/\n", dataDir)

	// Both files may hold credentials.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, ".env"), []byte(envTemplate), 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Edit config.yaml: set mode and mqtt.broker")
	fmt.Fprintln(w, "  2. Put credentials in .env")
	fmt.Fprintln(w, "  3. thingy topics && thingy serve")
	return nil
}

// writeIfMissing creates path with data and mode unless it already
// exists, reporting what it did to w.
func writeIfMissing(w io.Writer, path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if os.IsExist(err) {
			fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
