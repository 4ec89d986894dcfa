package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nmapOutput = `Starting Nmap 7.94 ( https://nmap.org ) at 2026-08-24 10:00 UTC
Nmap scan report for localhost (127.0.0.1)
Host is up (0.000080s latency).
Not shown: 997 closed tcp ports (reset)
PORT     STATE    SERVICE
22/tcp   open     ssh
80/tcp   open     http
8080/tcp filtered http-proxy

Nmap done: 1 IP address (1 host up) scanned in 0.05 seconds
`

func TestParseNmap(t *testing.T) {
	summary, err := ParseNmap([]byte(nmapOutput))
	require.NoError(t, err)

	assert.Equal(t, "up", summary["host_status"])

	ports, ok := summary["open_ports"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, ports, 2, "filtered ports are not open")
	assert.Equal(t, 22, ports[0]["port"])
	assert.Equal(t, "ssh", ports[0]["service"])
	assert.Equal(t, 80, ports[1]["port"])
	assert.Equal(t, "http", ports[1]["service"])
}

func TestParseNmapHostDown(t *testing.T) {
	summary, err := ParseNmap([]byte("Starting Nmap 7.94\nNote: Host seems down.\n"))
	require.NoError(t, err)
	assert.Equal(t, "down", summary["host_status"])
	assert.Empty(t, summary["open_ports"])
}

func TestParseNmapRejectsForeignOutput(t *testing.T) {
	_, err := ParseNmap([]byte("hello world"))
	assert.Error(t, err)
}
