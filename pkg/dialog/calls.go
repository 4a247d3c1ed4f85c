package dialog

import (
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/sip/message"
	"github.com/arzzra/ws_softphone/pkg/sip/transaction"
)

// abandoned вызывается под блокировкой: вызов уже завершается локально или
// освободил слот, ответы на его INVITE только закрывают транзакции
func (e *Engine) abandoned(s *session) bool {
	return e.current != s || s.state() == Terminating
}

func (e *Engine) inviteHandler(s *session, invite *sip.Request) transaction.ResponseHandler {
	return func(res *sip.Response) {
		switch code := res.StatusCode; {
		case code < 200:
			e.onProvisional(s, res)
		case code < 300:
			e.onAnswered(s, invite, res)
		default:
			e.onRejected(s, invite, res)
		}
	}
}

func (e *Engine) onProvisional(s *session, res *sip.Response) {
	e.mu.Lock()
	s.provisional = true
	var cancel *sip.Request
	if s.cancelPending {
		s.cancelPending = false
		cancel = message.NewCancel(s.invite)
	}

	progressed := false
	if !e.abandoned(s) && res.StatusCode > 100 {
		ev := EventProgress
		if res.StatusCode == 183 && len(res.Body()) > 0 {
			ev = EventEarlyMedia
			if codecs, err := media_sdp.NegotiatedCodecs(res.Body()); err == nil {
				s.codecs = codecs
			}
		}
		if err := s.fire(ev); err != nil {
			e.logger.Warn("предварительный ответ вне ожидаемого состояния", slog.Any("error", err))
		} else {
			progressed = true
		}
	}
	e.mu.Unlock()

	if cancel != nil {
		e.logger.Debug("отправка отложенного CANCEL")
		if err := e.txm.Request(cancel, e.logResponse(sip.CANCEL)); err != nil {
			e.logger.Warn("не удалось отправить CANCEL", slog.Any("error", err))
		}
	}
	if progressed {
		e.notifier.Notify(notify.Notification{
			Kind:       notify.KindCallProgress,
			Time:       time.Now(),
			CallID:     s.callID,
			Direction:  string(s.direction),
			RemoteURI:  s.remote.String(),
			StatusCode: res.StatusCode,
			Reason:     res.Reason,
		})
	}
}

func (e *Engine) onAnswered(s *session, invite *sip.Request, res *sip.Response) {
	dlg, err := message.DialogFromResponse(invite, res)
	if err != nil {
		e.logger.Warn("некорректный 2xx на INVITE", slog.Any("error", err))
		return
	}
	ep := e.ch.Endpoint()
	ack := ep.NewInDialog(dlg, sip.ACK, invite.CSeq().SeqNo, nil)

	e.mu.Lock()
	if e.abandoned(s) {
		// ответ пришел после отбоя: подтверждаем и сразу завершаем диалог
		s.dialog = dlg
		s.cseq++
		bye := ep.NewInDialog(dlg, sip.BYE, s.cseq, nil)
		e.mu.Unlock()

		e.logger.Debug("2xx после отбоя, отправка ACK и BYE")
		e.send(ack)
		if err := e.txm.Request(bye, e.logResponse(sip.BYE)); err != nil {
			e.logger.Warn("не удалось отправить BYE", slog.Any("error", err))
		}
		return
	}

	s.dialog = dlg
	if codecs, err := media_sdp.NegotiatedCodecs(res.Body()); err == nil {
		s.codecs = codecs
	} else {
		e.logger.Warn("не удалось разобрать SDP answer", slog.Any("error", err))
	}
	if err := s.fire(EventConfirmed); err != nil {
		e.mu.Unlock()
		e.logger.Warn("2xx вне ожидаемого состояния", slog.Any("error", err))
		e.send(ack)
		return
	}
	s.stopTimer()
	s.confirmedAt = time.Now()
	codecs := append([]media_sdp.Codec(nil), s.codecs...)
	e.mu.Unlock()

	e.send(ack)
	e.logger.Info("вызов установлен",
		slog.String("call_id", s.callID),
		slog.Any("codecs", codecs))
	e.notifyConfirmed(s)
}

func (e *Engine) onRejected(s *session, invite *sip.Request, res *sip.Response) {
	e.send(message.NewAckForFailure(invite, res))

	e.mu.Lock()
	if e.abandoned(s) {
		e.mu.Unlock()
		return
	}

	if message.IsAuthChallenge(res) && !s.authorized {
		s.authorized = true
		s.cseq++
		cseq := s.cseq
		e.mu.Unlock()

		authInvite, err := e.ch.Endpoint().Authorize(invite, res, e.ch.Credentials(), cseq)
		if err == nil {
			e.mu.Lock()
			s.invite = authInvite
			s.provisional = false
			e.mu.Unlock()
			err = e.txm.Request(authInvite, e.inviteHandler(s, authInvite))
		}
		if err == nil {
			e.logger.Debug("INVITE повторен с авторизацией", slog.Int("challenge", res.StatusCode))
			return
		}
		e.logger.Warn("digest авторизация INVITE не удалась", slog.Any("error", err))
		e.finish(s, EventFailed, outcome{
			cause:  message.CauseAuthenticationError,
			code:   res.StatusCode,
			reason: res.Reason,
			err:    err,
		})
		return
	}
	e.mu.Unlock()

	e.finish(s, EventFailed, outcome{
		cause:  message.CauseFromStatus(res.StatusCode),
		code:   res.StatusCode,
		reason: res.Reason,
	})
}

// HandleStrayResponse повторно подтверждает ретрансмиссию 2xx на INVITE
// известного диалога
func (e *Engine) HandleStrayResponse(res *sip.Response) {
	cseq := res.CSeq()
	if cseq == nil || cseq.MethodName != sip.INVITE || res.StatusCode < 200 || res.StatusCode >= 300 {
		return
	}
	callID := res.CallID()
	if callID == nil {
		return
	}

	e.mu.Lock()
	var dlg *message.Dialog
	for _, s := range []*session{e.current, e.last} {
		if s != nil && s.dialog != nil && s.callID == callID.Value() {
			dlg = s.dialog
			break
		}
	}
	e.mu.Unlock()
	if dlg == nil {
		return
	}
	e.logger.Debug("повторный 2xx на INVITE, повтор ACK")
	e.send(e.ch.Endpoint().NewInDialog(dlg, sip.ACK, cseq.SeqNo, nil))
}

// HandleRequest обрабатывает запросы, относящиеся к вызовам.
// Возвращает false для запросов вне диалога, которые движок не обслуживает.
func (e *Engine) HandleRequest(req *sip.Request) bool {
	if malformed(req) {
		e.rejectMalformed(req)
		return true
	}
	hasTag := message.GetTag(req.To().Params) != ""
	switch {
	case req.Method == sip.INVITE && !hasTag:
		e.onIncomingInvite(req)
	case req.Method == sip.CANCEL:
		e.onCancel(req)
	case hasTag:
		e.onInDialog(req)
	default:
		return false
	}
	return true
}

// malformed запрос без заголовков, которые нужны для диалога и ответа
func malformed(req *sip.Request) bool {
	return req.From() == nil || req.To() == nil || req.CallID() == nil || req.CSeq() == nil
}

// rejectMalformed отвечает 400. Без To ответ построить нельзя, такой запрос отбрасывается.
func (e *Engine) rejectMalformed(req *sip.Request) {
	e.logger.Warn("некорректный запрос", slog.String("method", req.Method.String()))
	if req.Method == sip.ACK || req.To() == nil {
		return
	}
	e.respond(req, 400, "Bad Request")
}

func (e *Engine) onIncomingInvite(req *sip.Request) {
	remote := req.From().Address
	e.mu.Lock()
	if e.current != nil {
		busy := e.current.callID
		e.mu.Unlock()
		if req.CallID() != nil && req.CallID().Value() == busy {
			e.logger.Debug("повтор INVITE активного вызова")
			return
		}

		e.logger.Info("входящий вызов отклонен: линия занята", slog.String("from", remote.String()))
		e.respond(req, 486, "Busy Here")
		e.notifier.Notify(notify.Notification{
			Kind:       notify.KindIncomingRejected,
			Time:       time.Now(),
			CallID:     req.CallID().Value(),
			Direction:  string(Incoming),
			RemoteURI:  remote.String(),
			Cause:      message.CauseBusy,
			StatusCode: 486,
			Reason:     "Busy Here",
		})
		return
	}

	localTag := message.NewTag()
	dlg, err := message.DialogFromRequest(req, localTag)
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("некорректный INVITE", slog.Any("error", err))
		e.respond(req, 400, "Bad Request")
		return
	}

	var (
		body           []byte
		codecs         []media_sdp.Codec
		awaitingAnswer bool
	)
	if len(req.Body()) > 0 {
		body, codecs, err = e.builder.Answer(req.Body())
		if err != nil {
			e.mu.Unlock()
			e.logger.Warn("offer не принят", slog.Any("error", err))
			e.respond(req, 488, "Not Acceptable Here")
			e.notifier.Notify(notify.Notification{
				Kind:       notify.KindIncomingRejected,
				Time:       time.Now(),
				CallID:     dlg.CallID,
				Direction:  string(Incoming),
				RemoteURI:  remote.String(),
				Cause:      message.CauseIncompatibleSDP,
				StatusCode: 488,
				Reason:     "Not Acceptable Here",
				Err:        err,
			})
			return
		}
	} else {
		// offer без SDP: свой offer в 200 OK, answer придет в ACK
		offer, oerr := e.builder.Offer()
		if oerr != nil {
			e.mu.Unlock()
			e.logger.Error("не удалось сформировать offer", slog.Any("error", oerr))
			e.respond(req, 500, "Server Internal Error")
			return
		}
		prioritized, _ := media_sdp.PrioritizeCodec(string(offer), e.priority)
		body = []byte(prioritized)
		awaitingAnswer = true
	}

	ep := e.ch.Endpoint()
	s := newSession(Incoming, req.To().Address, remote, dlg.CallID, localTag, e.logger)
	s.invite = req
	s.dialog = dlg
	s.localSDP = body
	s.codecs = codecs
	s.awaitingAnswer = awaitingAnswer
	if err := s.fire(EventAnswer); err != nil {
		e.mu.Unlock()
		e.logger.Error("вызов: переход не применен", slog.Any("error", err))
		return
	}
	e.current = s
	e.armTimeout(s)
	e.mu.Unlock()

	e.logger.Info("входящий вызов, автоответ",
		slog.String("call_id", s.callID),
		slog.String("from", remote.String()))
	e.notifier.Notify(notify.Notification{
		Kind:      notify.KindIncomingCall,
		Time:      time.Now(),
		CallID:    s.callID,
		Direction: string(Incoming),
		RemoteURI: remote.String(),
	})

	e.send(message.NewResponse(req, 180, "Ringing", localTag, ep.ContactHeader(), nil))
	if err := e.txm.Respond(message.NewResponse(req, 200, "OK", localTag, ep.ContactHeader(), body)); err != nil {
		e.finish(s, EventFailed, outcome{cause: message.CauseConnectionError, err: err})
	}
}

// onCancel: автоответ уже отправил 200 OK, поэтому CANCEL на вызов ничего не меняет
func (e *Engine) onCancel(req *sip.Request) {
	e.mu.Lock()
	known := false
	if s := e.current; s != nil && s.direction == Incoming && req.CallID() != nil {
		known = s.callID == req.CallID().Value()
	}
	e.mu.Unlock()

	if !known {
		e.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	e.logger.Debug("CANCEL после финального ответа игнорируется")
	e.respond(req, 200, "OK")
}

func (e *Engine) onInDialog(req *sip.Request) {
	e.mu.Lock()
	s := e.current
	if s == nil || s.dialog == nil || !s.dialog.Matches(req) {
		e.mu.Unlock()
		if req.Method != sip.ACK {
			e.respond(req, 481, "Call/Transaction Does Not Exist")
		}
		return
	}

	switch req.Method {
	case sip.ACK:
		if s.state() != EarlyMedia {
			e.mu.Unlock()
			return
		}
		if s.awaitingAnswer {
			if codecs, err := media_sdp.NegotiatedCodecs(req.Body()); err == nil {
				s.codecs = codecs
			} else {
				e.logger.Warn("ACK без корректного SDP answer", slog.Any("error", err))
			}
		}
		if err := s.fire(EventConfirmed); err != nil {
			e.mu.Unlock()
			e.logger.Warn("ACK вне ожидаемого состояния", slog.Any("error", err))
			return
		}
		s.stopTimer()
		s.confirmedAt = time.Now()
		e.mu.Unlock()
		e.logger.Info("входящий вызов установлен", slog.String("call_id", s.callID))
		e.notifyConfirmed(s)

	case sip.BYE:
		e.mu.Unlock()
		e.respond(req, 200, "OK")
		e.finish(s, EventEnded, outcome{cause: message.CauseBye})

	case sip.INVITE:
		// re-INVITE без пересогласования: отвечаем текущим SDP
		body := s.localSDP
		e.mu.Unlock()
		e.send(message.NewResponse(req, 200, "OK", "", e.ch.Endpoint().ContactHeader(), body))

	default:
		e.mu.Unlock()
		e.respond(req, 200, "OK")
	}
}

func (e *Engine) notifyConfirmed(s *session) {
	e.notifier.Notify(notify.Notification{
		Kind:      notify.KindCallConfirmed,
		Time:      time.Now(),
		CallID:    s.callID,
		Direction: string(s.direction),
		RemoteURI: s.remote.String(),
	})
}
