package message

import (
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

const (
	ContentTypeSDP = "application/sdp"
	AllowMethods   = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO, UPDATE"
)

// Endpoint локальная сторона сигнализации: AOR, Contact и параметры Via
type Endpoint struct {
	AOR         sip.Uri
	DisplayName string
	// Contact sip:<random>@<random>.invalid;transport=ws
	Contact sip.Uri
	// ViaHost имя в Via, обычно <random>.invalid
	ViaHost string
	// Transport WS или WSS
	Transport string
	UserAgent string
}

// NewEndpoint создает Endpoint со случайными Contact и Via host
func NewEndpoint(aor sip.Uri, displayName, transport, userAgent string) *Endpoint {
	transport = strings.ToUpper(transport)
	if transport == "" {
		transport = "WS"
	}
	return &Endpoint{
		AOR:         aor,
		DisplayName: displayName,
		Contact: sip.Uri{
			Scheme:    "sip",
			User:      strings.ToLower(sip.RandString(8)),
			Host:      InvalidHost(),
			UriParams: sip.NewParams().Add("transport", strings.ToLower(transport)),
			Headers:   sip.NewParams(),
		},
		ViaHost:   InvalidHost(),
		Transport: transport,
		UserAgent: userAgent,
	}
}

// Domain возвращает домен регистратора
func (e *Endpoint) Domain() string {
	return e.AOR.Host
}

// Via создает Via с новым branch
func (e *Endpoint) Via() *sip.ViaHeader {
	return &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       e.Transport,
		Host:            e.ViaHost,
		Params:          sip.NewParams().Add("branch", NewBranch()),
	}
}

// ContactHeader создает Contact заголовок
func (e *Endpoint) ContactHeader() *sip.ContactHeader {
	return &sip.ContactHeader{
		Address: *e.Contact.Clone(),
		Params:  sip.NewParams(),
	}
}

func (e *Endpoint) from(tag string) *sip.FromHeader {
	return &sip.FromHeader{
		DisplayName: e.DisplayName,
		Address:     *e.AOR.Clone(),
		Params:      sip.NewParams().Add("tag", tag),
	}
}

// NewRegister формирует REGISTER к домену AOR
func (e *Endpoint) NewRegister(callID, fromTag string, cseq uint32, expires int) *sip.Request {
	recipient := sip.Uri{Scheme: e.AOR.Scheme, Host: e.AOR.Host, Port: e.AOR.Port}
	req := sip.NewRequest(sip.REGISTER, recipient)

	req.AppendHeader(e.Via())
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(&sip.ToHeader{Address: *e.AOR.Clone(), Params: sip.NewParams()})
	req.AppendHeader(e.from(fromTag))
	id := sip.CallIDHeader(callID)
	req.AppendHeader(&id)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})

	contact := e.ContactHeader()
	contact.Params = contact.Params.Add("expires", strconv.Itoa(expires))
	req.AppendHeader(contact)
	exp := sip.ExpiresHeader(expires)
	req.AppendHeader(&exp)
	e.common(req)
	req.SetBody(nil)
	return req
}

// NewInvite формирует начальный INVITE с SDP offer
func (e *Endpoint) NewInvite(target sip.Uri, callID, fromTag string, cseq uint32, offer []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, target)

	req.AppendHeader(e.Via())
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(&sip.ToHeader{Address: *target.Clone(), Params: sip.NewParams()})
	req.AppendHeader(e.from(fromTag))
	id := sip.CallIDHeader(callID)
	req.AppendHeader(&id)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.INVITE})
	req.AppendHeader(e.ContactHeader())
	e.common(req)
	setBody(req, offer)
	return req
}

// NewInDialog формирует запрос внутри диалога (BYE, re-INVITE, ACK на 2xx)
func (e *Endpoint) NewInDialog(d *Dialog, method sip.RequestMethod, cseq uint32, body []byte) *sip.Request {
	req := sip.NewRequest(method, *d.RemoteTarget.Clone())

	req.AppendHeader(e.Via())
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	for _, r := range d.RouteSet {
		req.AppendHeader(&sip.RouteHeader{Address: *r.Clone()})
	}
	req.AppendHeader(&sip.FromHeader{
		Address: *d.LocalURI.Clone(),
		Params:  sip.NewParams().Add("tag", d.LocalTag),
	})
	to := &sip.ToHeader{Address: *d.RemoteURI.Clone(), Params: sip.NewParams()}
	if d.RemoteTag != "" {
		to.Params = to.Params.Add("tag", d.RemoteTag)
	}
	req.AppendHeader(to)
	id := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&id)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: method})
	if method == sip.INVITE {
		req.AppendHeader(e.ContactHeader())
	}
	e.common(req)
	setBody(req, body)
	return req
}

// NewAckForFailure формирует ACK на финальный ответ >= 300.
// ACK относится к той же транзакции: Via (branch), Request-URI, From, Call-ID и номер CSeq
// берутся из INVITE, To из ответа.
func NewAckForFailure(invite *sip.Request, res *sip.Response) *sip.Request {
	ack := sip.NewRequest(sip.ACK, *invite.Recipient.Clone())
	if via := invite.Via(); via != nil {
		ack.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", invite, ack)
	maxForwards := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxForwards)
	if h := invite.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := res.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.ACK})
	}
	ack.SetBody(nil)
	return ack
}

// NewCancel формирует CANCEL к отправленному INVITE
func NewCancel(invite *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, *invite.Recipient.Clone())

	if via := invite.Via(); via != nil {
		cancel.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", invite, cancel)
	maxForwards := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxForwards)

	if h := invite.From(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.To(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.CANCEL})
	}
	cancel.SetBody(nil)
	return cancel
}

// NewResponse формирует ответ на запрос. toTag ставится, если в To запроса тега нет.
// sipgo сам добавляет случайный тег, поэтому он заменяется на toTag.
func NewResponse(req *sip.Request, code int, reason, toTag string, contact *sip.ContactHeader, body []byte) *sip.Response {
	res := sip.NewResponseFromRequest(req, code, reason, nil)

	if reqTo := req.To(); reqTo != nil && toTag != "" && GetTag(reqTo.Params) == "" {
		if to := res.To(); to != nil {
			if to.Params == nil {
				to.Params = sip.NewParams()
			}
			to.Params = to.Params.Add("tag", toTag)
		}
	}
	if contact != nil {
		res.AppendHeader(contact)
	}
	if len(body) > 0 {
		ct := sip.ContentTypeHeader(ContentTypeSDP)
		res.AppendHeader(&ct)
	}
	res.SetBody(body)
	return res
}

func (e *Endpoint) common(req *sip.Request) {
	req.AppendHeader(sip.NewHeader("Allow", AllowMethods))
	if e.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", e.UserAgent))
	}
}

func setBody(req *sip.Request, body []byte) {
	if len(body) > 0 {
		ct := sip.ContentTypeHeader(ContentTypeSDP)
		req.AppendHeader(&ct)
	}
	req.SetBody(body)
}
