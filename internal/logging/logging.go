// Package logging configures the process-wide structured logger. It follows
// evalgo-org-eve/common/logging.go's stream-splitting approach: error-level
// entries go to stderr, everything else to stdout, so container log
// collectors can apply different retention/alerting rules per stream
// without parsing fields.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// streamSplitter routes logrus output by level so orchestrators can treat
// stdout/stderr independently.
type streamSplitter struct{}

func (streamSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Log is the shared logger instance used across the core and cmd/server.
var Log = logrus.New()

func init() {
	Log.SetOutput(streamSplitter{})
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Configure applies deployment-specific settings. json selects a
// machine-readable formatter (production); level parses a logrus level name
// and falls back to Info on a bad value.
func Configure(json bool, level string) {
	if json {
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}

// WithComponent scopes a logger to a named subsystem (e.g. "merge",
// "cascade") for consistent field tagging across the core's components.
func WithComponent(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
