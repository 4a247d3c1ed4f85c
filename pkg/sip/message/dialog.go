package message

import (
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// Dialog идентификация и маршрутизация установленного диалога (RFC 3261 12)
type Dialog struct {
	CallID    string
	LocalURI  sip.Uri
	LocalTag  string
	RemoteURI sip.Uri
	RemoteTag string
	// RemoteTarget Contact удаленной стороны
	RemoteTarget sip.Uri
	RouteSet     []sip.Uri
}

// DialogFromResponse создает диалог UAC по INVITE и ответу 2xx/1xx с To-tag.
// Route set берется из Record-Route ответа в обратном порядке.
func DialogFromResponse(invite *sip.Request, res *sip.Response) (*Dialog, error) {
	from, to, callID := invite.From(), res.To(), invite.CallID()
	if from == nil || to == nil || callID == nil {
		return nil, errors.Wrap(ErrMissingHeader, "From/To/Call-ID")
	}
	d := &Dialog{
		CallID:       string(*callID),
		LocalURI:     *from.Address.Clone(),
		LocalTag:     GetTag(from.Params),
		RemoteURI:    *to.Address.Clone(),
		RemoteTag:    GetTag(to.Params),
		RemoteTarget: *invite.Recipient.Clone(),
	}
	if contact := res.Contact(); contact != nil {
		d.RemoteTarget = *contact.Address.Clone()
	}
	routes := RecordRoutes(res)
	for i := len(routes) - 1; i >= 0; i-- {
		d.RouteSet = append(d.RouteSet, routes[i])
	}
	return d, nil
}

// DialogFromRequest создает диалог UAS по входящему INVITE и локальному To-tag.
// Route set берется из Record-Route запроса в прямом порядке.
func DialogFromRequest(req *sip.Request, localTag string) (*Dialog, error) {
	from, to, callID := req.From(), req.To(), req.CallID()
	if from == nil || to == nil || callID == nil {
		return nil, errors.Wrap(ErrMissingHeader, "From/To/Call-ID")
	}
	d := &Dialog{
		CallID:       string(*callID),
		LocalURI:     *to.Address.Clone(),
		LocalTag:     localTag,
		RemoteURI:    *from.Address.Clone(),
		RemoteTag:    GetTag(from.Params),
		RemoteTarget: *from.Address.Clone(),
		RouteSet:     RecordRoutes(req),
	}
	if contact := req.Contact(); contact != nil {
		d.RemoteTarget = *contact.Address.Clone()
	}
	return d, nil
}

// Matches проверяет, что запрос принадлежит диалогу (Call-ID и теги)
func (d *Dialog) Matches(req *sip.Request) bool {
	callID, from, to := req.CallID(), req.From(), req.To()
	if callID == nil || from == nil || to == nil {
		return false
	}
	return string(*callID) == d.CallID &&
		GetTag(from.Params) == d.RemoteTag &&
		GetTag(to.Params) == d.LocalTag
}

// GetTag возвращает параметр tag или пустую строку
func GetTag(params sip.HeaderParams) string {
	if params == nil {
		return ""
	}
	tag, _ := params.Get("tag")
	return tag
}

// GetBranch возвращает branch верхнего Via
func GetBranch(msg interface{ Via() *sip.ViaHeader }) string {
	via := msg.Via()
	if via == nil || via.Params == nil {
		return ""
	}
	branch, _ := via.Params.Get("branch")
	return branch
}
