package softphone

import (
	"log/slog"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/ws_softphone/pkg/sip/message"
)

// route отвечает на запросы, которые не относятся к вызову
func (p *Phone) route(req *sip.Request) {
	var res *sip.Response
	switch req.Method {
	case sip.ACK:
		return
	case sip.OPTIONS:
		res = message.NewResponse(req, 200, "OK", message.NewTag(), nil, nil)
	default:
		p.logger.Debug("метод не поддерживается", slog.String("method", req.Method.String()))
		res = message.NewResponse(req, 405, "Method Not Allowed", message.NewTag(), nil, nil)
	}
	res.AppendHeader(sip.NewHeader("Allow", message.AllowMethods))
	if err := p.txm.Respond(res); err != nil {
		p.logger.Warn("не удалось отправить ответ", slog.Any("error", err))
	}
}
