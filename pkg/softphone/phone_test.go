package softphone

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/ws_softphone/pkg/channel"
	"github.com/arzzra/ws_softphone/pkg/dialog"
	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/sip/message"
	"github.com/arzzra/ws_softphone/pkg/sip/transport"
)

const wait = time.Second

const answerSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 198.51.100.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 198.51.100.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 30000 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

// PhoneSuite проверяет софтфон целиком поверх mock транспорта
type PhoneSuite struct {
	suite.Suite

	phone  *Phone
	tp     *transport.Mock
	rec    *notify.Recorder
	reg    *prometheus.Registry
	remote *message.Endpoint
}

func TestPhoneSuite(t *testing.T) {
	suite.Run(t, new(PhoneSuite))
}

func (s *PhoneSuite) SetupTest() {
	cfg := DefaultConfig()
	cfg.AOR = "sip:7000@pbx.example"
	cfg.Password = "secret"
	cfg.TransportURL = "wss://pbx.example:8089/ws"
	cfg.Media.PreferredCodecs = []string{"PCMU", "PCMA"}
	cfg.Media.PriorityCodec = media_sdp.PayloadTypePCMU
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s.rec = notify.NewRecorder(64)
	cfg.OnNotification = s.rec.Handle
	s.reg = prometheus.NewRegistry()
	cfg.MetricsRegisterer = s.reg

	s.tp = transport.NewMock()
	phone, err := NewWithTransport(cfg, s.tp)
	s.Require().NoError(err)
	s.phone = phone

	aor, err := message.ParseAOR("sip:8000@pbx.example")
	s.Require().NoError(err)
	s.remote = message.NewEndpoint(aor, "", "ws", "remote")
}

func (s *PhoneSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.phone.Close(ctx)
}

func (s *PhoneSuite) register() {
	s.Require().NoError(s.phone.Register(context.Background()))
	req, err := s.tp.WaitRequest(sip.REGISTER, wait)
	s.Require().NoError(err)
	s.Require().NoError(s.tp.Deliver(message.NewResponse(req, 200, "OK", "reg", req.Contact(), nil)))
	s.Require().Eventually(func() bool { return s.phone.Status() == channel.Registered }, wait, 5*time.Millisecond)
}

func (s *PhoneSuite) call() *sip.Request {
	_, err := s.phone.Call(context.Background(), "8000")
	s.Require().NoError(err)
	invite, err := s.tp.WaitRequest(sip.INVITE, wait)
	s.Require().NoError(err)
	return invite
}

func (s *PhoneSuite) confirm() *sip.Request {
	invite := s.call()
	res := message.NewResponse(invite, 200, "OK", "callee", s.remote.ContactHeader(), []byte(answerSDP))
	s.Require().NoError(s.tp.Deliver(res))
	_, err := s.tp.WaitRequest(sip.ACK, wait)
	s.Require().NoError(err)
	_, ok := s.rec.WaitFor(notify.KindCallConfirmed, wait)
	s.Require().True(ok)
	return invite
}

// outOfDialog запрос от удаленной стороны без to-tag
func (s *PhoneSuite) outOfDialog(method sip.RequestMethod) *sip.Request {
	req := s.remote.NewRegister(message.NewCallID(), message.NewTag(), 1, 0)
	req.Method = method
	req.CSeq().MethodName = method
	req.RemoveHeader("Expires")
	return req
}

func (s *PhoneSuite) TestCallBeforeRegister() {
	_, err := s.phone.Call(context.Background(), "8000")
	s.ErrorIs(err, dialog.ErrNotRegistered)
	s.Equal(channel.Disconnected, s.phone.Status())
}

func (s *PhoneSuite) TestRegisterAndCall() {
	s.register()
	invite := s.call()

	s.Equal("sip:8000@pbx.example", invite.Recipient.String())
	s.Equal([]string{"0", "8", "101"}, media_sdp.AudioFormats(string(invite.Body())))
	s.Equal("WSS", invite.Via().Transport)

	info, ok := s.phone.ActiveCall()
	s.Require().True(ok)
	s.Equal(dialog.Offering, info.State)

	_, err := s.phone.Call(context.Background(), "8001")
	s.ErrorIs(err, dialog.ErrSessionBusy)
}

func (s *PhoneSuite) TestHangUpConfirmed() {
	s.register()
	s.confirm()

	s.Require().NoError(s.phone.HangUp(context.Background()))
	bye, err := s.tp.WaitRequest(sip.BYE, wait)
	s.Require().NoError(err)
	s.Require().NoError(s.tp.Deliver(message.NewResponse(bye, 200, "OK", "", nil, nil)))

	n, ok := s.rec.WaitFor(notify.KindCallEnded, wait)
	s.Require().True(ok)
	s.Equal(message.CauseTerminated, n.Cause)
	s.ErrorIs(s.phone.HangUp(context.Background()), dialog.ErrNoActiveSession)
}

func (s *PhoneSuite) TestTransportLostEndsCall() {
	s.register()
	s.confirm()

	s.tp.Drop(nil)

	// канал сообщает о потере раньше, чем движок завершает вызов
	d, ok := s.rec.WaitFor(notify.KindDisconnected, wait)
	s.Require().True(ok)
	s.Equal(message.CauseTransportLost, d.Cause)
	n, ok := s.rec.WaitFor(notify.KindCallEnded, wait)
	s.Require().True(ok)
	s.Equal(message.CauseTransportLost, n.Cause)

	s.Equal(channel.Disconnected, s.phone.Status())
	_, active := s.phone.ActiveCall()
	s.False(active)
	last, ok := s.phone.LastCall()
	s.Require().True(ok)
	s.Equal(dialog.Ended, last.State)
}

func (s *PhoneSuite) TestSecondIncomingCallBusy() {
	s.register()
	s.confirm()

	invite := s.remote.NewInvite(s.phone.channel.Endpoint().AOR, message.NewCallID(), message.NewTag(), 1, []byte(answerSDP))
	s.Require().NoError(s.tp.Deliver(invite))
	_, err := s.tp.WaitResponse(486, wait)
	s.Require().NoError(err)

	n, ok := s.rec.WaitFor(notify.KindIncomingRejected, wait)
	s.Require().True(ok)
	s.Equal(message.CauseBusy, n.Cause)

	info, ok := s.phone.ActiveCall()
	s.Require().True(ok, "первый вызов не затронут")
	s.Equal(dialog.Confirmed, info.State)
}

func (s *PhoneSuite) TestIncomingCallConfirmedThenRemoteBye() {
	s.register()

	invite := s.remote.NewInvite(s.phone.channel.Endpoint().AOR, message.NewCallID(), message.NewTag(), 1, []byte(answerSDP))
	s.Require().NoError(s.tp.Deliver(invite))
	ok200, err := s.tp.WaitResponse(200, wait)
	s.Require().NoError(err)

	n, ok := s.rec.WaitFor(notify.KindIncomingCall, wait)
	s.Require().True(ok)
	s.Equal("sip:8000@pbx.example", n.RemoteURI)

	d, err := message.DialogFromResponse(invite, ok200)
	s.Require().NoError(err)
	s.Require().NoError(s.tp.Deliver(s.remote.NewInDialog(d, sip.ACK, 1, nil)))
	_, ok = s.rec.WaitFor(notify.KindCallConfirmed, wait)
	s.Require().True(ok)

	info, ok := s.phone.ActiveCall()
	s.Require().True(ok)
	s.Equal(dialog.Incoming, info.Direction)
	s.Equal(dialog.Confirmed, info.State)

	s.Require().NoError(s.tp.Deliver(s.remote.NewInDialog(d, sip.BYE, 2, nil)))
	res, err := s.tp.WaitResponse(200, wait)
	s.Require().NoError(err)
	s.Equal(sip.BYE, res.CSeq().MethodName)

	ended, ok := s.rec.WaitFor(notify.KindCallEnded, wait)
	s.Require().True(ok)
	s.Equal(message.CauseBye, ended.Cause)
	_, active := s.phone.ActiveCall()
	s.False(active)
}

func (s *PhoneSuite) TestOptionsAnswered() {
	s.register()
	s.Require().NoError(s.tp.Deliver(s.outOfDialog(sip.OPTIONS)))

	res, err := s.tp.WaitResponse(200, wait)
	s.Require().NoError(err)
	allow := res.GetHeader("Allow")
	s.Require().NotNil(allow)
	s.Equal(message.AllowMethods, allow.Value())
}

func (s *PhoneSuite) TestUnsupportedMethod() {
	s.register()
	s.Require().NoError(s.tp.Deliver(s.outOfDialog(sip.MESSAGE)))

	res, err := s.tp.WaitResponse(405, wait)
	s.Require().NoError(err)
	s.NotNil(res.GetHeader("Allow"))
}

func (s *PhoneSuite) TestCloseUnregisters() {
	s.register()

	done := make(chan error, 1)
	go func() { done <- s.phone.Close(context.Background()) }()

	req, err := s.tp.WaitRequest(sip.REGISTER, wait)
	s.Require().NoError(err)
	s.Equal("0", req.GetHeader("Expires").Value())
	s.Require().NoError(s.tp.Deliver(message.NewResponse(req, 200, "OK", "reg", nil, nil)))

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(wait):
		s.Fail("Close не завершился")
	}
	s.Contains(s.rec.Kinds(), notify.KindUnregistered)
	s.False(s.tp.Connected())
}

func (s *PhoneSuite) TestMetrics() {
	s.register()
	s.confirm()

	s.Equal(float64(1), testutil.ToFloat64(s.phone.metrics.registrations.WithLabelValues("registered")))
	count, err := testutil.GatherAndCount(s.reg, "softphone_calls_active")
	s.Require().NoError(err)
	s.Equal(1, count)

	s.tp.Drop(nil)
	_, ok := s.rec.WaitFor(notify.KindCallEnded, wait)
	s.Require().True(ok)
	s.Equal(float64(1), testutil.ToFloat64(s.phone.metrics.calls.WithLabelValues("outgoing", message.CauseTransportLost)))
	s.Equal(float64(1), testutil.ToFloat64(s.phone.metrics.disconnects.WithLabelValues(message.CauseTransportLost)))
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no aor", func(c *Config) { c.AOR = "" }, false},
		{"no url", func(c *Config) { c.TransportURL = "" }, false},
		{"not websocket", func(c *Config) { c.TransportURL = "udp://pbx.example" }, false},
		{"bad aor", func(c *Config) { c.AOR = "tel:7000" }, false},
		{"fractional expires", func(c *Config) { c.RegisterExpires = 1500 * time.Millisecond }, false},
		{"stun without servers", func(c *Config) {
			c.GatherCandidates = true
			c.Media.ICEServers = nil
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AOR = "sip:7000@pbx.example"
			cfg.TransportURL = "wss://pbx.example/ws"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
