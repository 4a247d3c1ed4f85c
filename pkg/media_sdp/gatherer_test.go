package media_sdp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSTUNServer отвечает на Binding Request фиксированным XOR-MAPPED-ADDRESS
func startSTUNServer(t *testing.T, mapped net.IP) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: mapped, Port: 40000},
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(res.Raw, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func TestSTUNGatherer_Gather(t *testing.T) {
	addr := startSTUNServer(t, net.IPv4(203, 0, 113, 10))

	g := NewSTUNGatherer([]string{"stun:" + addr}, time.Second, nil)
	ip, err := g.Gather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", ip)
}

func TestSTUNGatherer_FallsBackToNextServer(t *testing.T) {
	// закрытый порт: запрос уйдет, ответа не будет
	dead, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	require.NoError(t, dead.Close())

	alive := startSTUNServer(t, net.IPv4(198, 51, 100, 20))

	g := NewSTUNGatherer([]string{deadAddr, alive}, 200*time.Millisecond, nil)
	ip, err := g.Gather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.20", ip)
}

func TestSTUNGatherer_NoServers(t *testing.T) {
	g := NewSTUNGatherer(nil, 0, nil)
	_, err := g.Gather(context.Background())

	var sdpErr *SDPError
	require.ErrorAs(t, err, &sdpErr)
	assert.Equal(t, ErrorCodeCandidateGathering, sdpErr.Code)
}

type gathererFunc func(ctx context.Context) (string, error)

func (f gathererFunc) Gather(ctx context.Context) (string, error) { return f(ctx) }

func TestCandidateCache(t *testing.T) {
	ready := make(chan struct{})
	cache := NewCandidateCache(gathererFunc(func(ctx context.Context) (string, error) {
		<-ready
		return "192.0.2.55", nil
	}), nil)

	cache.Start(context.Background())
	assert.Empty(t, cache.Address(), "до ответа адрес неизвестен")

	close(ready)
	assert.Eventually(t, func() bool {
		return cache.Address() == "192.0.2.55"
	}, time.Second, 10*time.Millisecond)
}

func TestStunHostPort(t *testing.T) {
	assert.Equal(t, "stun.l.google.com:19302", stunHostPort("stun:stun.l.google.com:19302"))
	assert.Equal(t, "example.org:3478", stunHostPort("stun:example.org"))
	assert.Equal(t, "example.org:5349", stunHostPort("stuns:example.org:5349?transport=tcp"))
}
