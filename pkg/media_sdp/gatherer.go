package media_sdp

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun"
	"github.com/pkg/errors"
)

// Gatherer определяет внешний адрес для SDP
type Gatherer interface {
	Gather(ctx context.Context) (string, error)
}

// STUNGatherer определяет server-reflexive адрес через STUN Binding Request
type STUNGatherer struct {
	servers []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSTUNGatherer создает STUNGatherer. Адреса принимаются в виде stun:host:port или host:port.
func NewSTUNGatherer(servers []string, timeout time.Duration, logger *slog.Logger) *STUNGatherer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		addrs = append(addrs, stunHostPort(s))
	}
	return &STUNGatherer{servers: addrs, timeout: timeout, logger: logger}
}

// Gather опрашивает серверы по очереди до первого успешного ответа
func (g *STUNGatherer) Gather(ctx context.Context) (string, error) {
	if len(g.servers) == 0 {
		return "", NewSDPError(ErrorCodeCandidateGathering, "не заданы STUN серверы")
	}
	var lastErr error
	for _, server := range g.servers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ip, err := g.query(ctx, server)
		if err != nil {
			g.logger.Debug("STUN запрос не удался", slog.String("server", server), slog.Any("error", err))
			lastErr = err
			continue
		}
		g.logger.Debug("получен внешний адрес", slog.String("server", server), slog.String("ip", ip))
		return ip, nil
	}
	return "", WrapSDPError(ErrorCodeCandidateGathering, lastErr, "ни один STUN сервер не ответил")
}

func (g *STUNGatherer) query(ctx context.Context, server string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return "", errors.Wrap(err, "dial")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.Write(req.Raw); err != nil {
		return "", errors.Wrap(err, "write binding request")
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return "", errors.Wrap(err, "read binding response")
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return "", errors.Wrap(err, "decode binding response")
	}
	if res.TransactionID != req.TransactionID {
		return "", errors.New("transaction id mismatch")
	}

	var xor stun.XORMappedAddress
	if err := xor.GetFrom(res); err == nil {
		return xor.IP.String(), nil
	}
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err != nil {
		return "", errors.New("в ответе нет адреса")
	}
	return mapped.IP.String(), nil
}

func stunHostPort(s string) string {
	s = strings.TrimPrefix(s, "stuns:")
	s = strings.TrimPrefix(s, "stun:")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		s = net.JoinHostPort(s, "3478")
	}
	return s
}

// CandidateCache хранит последний найденный внешний адрес.
// Address не блокирует: пока адрес не найден, возвращается пустая строка.
type CandidateCache struct {
	gatherer Gatherer
	logger   *slog.Logger

	mu   sync.RWMutex
	addr string
	once sync.Once
}

// NewCandidateCache создает кэш поверх gatherer
func NewCandidateCache(gatherer Gatherer, logger *slog.Logger) *CandidateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandidateCache{gatherer: gatherer, logger: logger}
}

// Address реализует AddressSource
func (c *CandidateCache) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// Refresh синхронно опрашивает gatherer и обновляет адрес
func (c *CandidateCache) Refresh(ctx context.Context) error {
	addr, err := c.gatherer.Gather(ctx)
	if err != nil {
		c.logger.Warn("внешний адрес не определен, используется локальный", slog.Any("error", err))
		return err
	}
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()
	return nil
}

// Start однократно запускает Refresh в отдельной горутине
func (c *CandidateCache) Start(ctx context.Context) {
	c.once.Do(func() {
		go func() {
			_ = c.Refresh(ctx)
		}()
	})
}
