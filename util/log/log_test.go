package waLog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSub tests the propagation of sub module names.
func TestSub(t *testing.T) {
	for _, test := range []struct {
		existing string
		new      string
		want     string
	}{
		{existing: "", new: "", want: ""},
		{existing: "existing", new: "", want: "existing"},
		{existing: "", new: "new", want: "new"},
		{existing: "existing", new: "new", want: "existing/new"},
	} {
		if got := sub(test.existing, test.new); got != test.want {
			t.Errorf("sub(%q, %q) = %q, want %q", test.existing, test.new, got, test.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel(""))
}

func TestZerologSubloggerField(t *testing.T) {
	var buf bytes.Buffer
	log := Zerolog(zerolog.New(&buf)).Sub("Client").Sub("Socket")
	log.Infof("dialing %s", "ws://example")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Client/Socket", line["sublogger"])
	assert.Equal(t, "dialing ws://example", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Writer(&buf, "Main", WarnLevel, false)
	log.Debugf("debug")
	log.Infof("info")
	log.Warnf("warn")
	log.Errorf("error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "warn")
	assert.Contains(t, lines[1], "error")
	assert.Contains(t, lines[0], "Main")
}

func TestNoop(t *testing.T) {
	assert.Same(t, Noop, Noop.Sub("anything"))
	Noop.Errorf("nothing happens %d", 1)
}
