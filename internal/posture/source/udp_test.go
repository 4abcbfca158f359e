package source

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
	"github.com/banshee-data/posture.report/internal/posture/loop"
)

func TestUDP_ReceivesFrames(t *testing.T) {
	u := NewUDP(UDPConfig{Address: "127.0.0.1:0", StaleAfter: time.Minute})
	assert.Nil(t, u.Addr())
	require.NoError(t, u.Initialize(context.Background(), loop.DefaultSourceOptions()))
	defer u.Close()
	require.NoError(t, u.Initialize(context.Background(), loop.DefaultSourceOptions()), "re-initialize keeps the socket")

	conn, err := net.Dial("udp", u.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload := encode(t, landmarktest.Neutral(landmarktest.WithYaw(40)))
	require.Eventually(t, func() bool {
		conn.Write(payload)
		f, err := u.Detect(context.Background())
		return err == nil && f != nil
	}, 3*time.Second, 20*time.Millisecond)

	f, err := u.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *landmarktest.Neutral(landmarktest.WithYaw(40)), *f)
	assert.GreaterOrEqual(t, u.Packets(), uint64(1))
}

func TestUDP_BadAddress(t *testing.T) {
	u := NewUDP(UDPConfig{Address: "not-an-address"})
	assert.Error(t, u.Initialize(context.Background(), loop.DefaultSourceOptions()))
	assert.NoError(t, u.Close())
}

func TestUDP_CloseStopsListening(t *testing.T) {
	u := NewUDP(UDPConfig{Address: "127.0.0.1:0"})
	require.NoError(t, u.Initialize(context.Background(), loop.DefaultSourceOptions()))
	addr := u.Addr().String()
	require.NoError(t, u.Close())
	assert.Nil(t, u.Addr())

	// the port is free again
	pc, err := net.ListenPacket("udp", addr)
	require.NoError(t, err)
	pc.Close()
}
