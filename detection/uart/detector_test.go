//nolint:paralleltest // Tests replace package-level listPortsFn and probeDeviceFn
package uart

import (
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-spistream/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPorts(t *testing.T, ports []serialPort, answering ...string) *[]string {
	t.Helper()
	origList, origProbe := listPortsFn, probeDeviceFn
	t.Cleanup(func() {
		listPortsFn, probeDeviceFn = origList, origProbe
	})

	var probed []string
	listPortsFn = func() ([]serialPort, error) {
		return ports, nil
	}
	probeDeviceFn = func(_ context.Context, path string, _ *detection.Options) error {
		probed = append(probed, path)
		for _, p := range answering {
			if p == path {
				return nil
			}
		}
		return detection.ErrNoPeer
	}
	return &probed
}

var testPorts = []serialPort{
	{Path: "/dev/ttyS0", Name: "ttyS0"},
	{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "1A86:7523", IsUSB: true, SerialNumber: "A1"},
	{Path: "/dev/ttyACM0", Name: "ttyACM0", VIDPID: "2341:0043", IsUSB: true},
}

func TestDetect_PassiveReportsLikelyBridges(t *testing.T) {
	probed := stubPorts(t, testPorts)

	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive

	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1, "ttyS0 is not a bridge and the Uno is blocklisted")
	assert.Equal(t, "/dev/ttyUSB0", devices[0].Path)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "1A86:7523", devices[0].Metadata["vidpid"])
	assert.Equal(t, "A1", devices[0].Metadata["serial"])
	assert.Empty(t, *probed, "passive mode never probes")
}

func TestDetect_SafeReportsOnlyAnsweringPorts(t *testing.T) {
	probed := stubPorts(t, testPorts, "/dev/ttyS0")

	opts := detection.DefaultOptions()
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyS0", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, []string{"/dev/ttyS0", "/dev/ttyUSB0"}, *probed, "blocklisted port never opened")
}

func TestDetect_FailedProbeDiscardsLikelyBridge(t *testing.T) {
	stubPorts(t, testPorts[1:2])

	opts := detection.DefaultOptions()
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_IgnorePaths(t *testing.T) {
	probed := stubPorts(t, testPorts, "/dev/ttyUSB0")

	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{"/dev/ttyUSB0", "/dev/ttyS0"}
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Empty(t, *probed)
}

func TestDetect_EnumerationError(t *testing.T) {
	stubPorts(t, nil)
	boom := errors.New("no sysfs")
	listPortsFn = func() ([]serialPort, error) { return nil, boom }

	opts := detection.DefaultOptions()
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, boom)
}

func TestIsLikelyBridge(t *testing.T) {
	assert.True(t, isLikelyBridge(&serialPort{VIDPID: "10c4:ea60"}))
	assert.True(t, isLikelyBridge(&serialPort{Name: "cu.usbmodem1101"}))
	assert.False(t, isLikelyBridge(&serialPort{Name: "ttyS0"}))
}
