package topology_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowpoint-sec/natattack/internal/topology"
)

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.properties")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidTopology(t *testing.T) {
	path := writeTopology(t, `
interface = tun7
server.ip = 10.244.129.5
server.port = 2440
server.ttl-drop = 3
router.ip = 10.244.129.4
attacker.ip = 10.244.1.128
name = lab-topology-1
`)

	topo, err := topology.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tun7", topo.Interface)
	assert.Equal(t, uint32(0x0AF48105), topo.Server.IP)
	assert.Equal(t, uint16(2440), topo.Server.Port)
	assert.Equal(t, uint8(3), topo.TTLDrop)
	assert.Equal(t, uint32(0x0AF48104), topo.Router)
	assert.Equal(t, uint32(0x0AF40180), topo.Attacker)
	assert.Equal(t, "lab-topology-1", topo.Name)
}

func TestLoadDefaultsInterfaceName(t *testing.T) {
	path := writeTopology(t, `
server.ip = 10.0.0.1
server.port = 80
server.ttl-drop = 5
router.ip = 10.0.0.2
attacker.ip = 10.0.0.3
`)
	topo, err := topology.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tun0", topo.Interface)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := topology.Load(filepath.Join(t.TempDir(), "nope.properties"))
	assert.Error(t, err)
}

func TestParseDottedQuad(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "10.244.129.5", false},
		{"zeroes", "0.0.0.0", false},
		{"max", "255.255.255.255", false},
		{"non-digit", "10.24a.129.5", true},
		{"empty octet", "10..129.5", true},
		{"octet over 255", "10.256.129.5", true},
		{"missing separator", "10.244.129", true},
		{"extra characters", "10.244.129.5x", true},
		{"too many octets", "10.244.129.5.6", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := topology.ParseDottedQuad(c.in)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDottedQuadEncoding(t *testing.T) {
	ip, err := topology.ParseDottedQuad("10.244.129.5")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0AF48105), ip)
}
