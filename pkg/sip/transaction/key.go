package transaction

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/sip/message"
)

// Key ключ клиентской транзакции: branch верхнего Via и метод из CSeq (RFC 3261 17.1.3)
type Key struct {
	Branch string
	Method sip.RequestMethod
}

func (k Key) String() string {
	return k.Branch + "|" + string(k.Method)
}

// RequestKey ключ транзакции исходящего запроса
func RequestKey(req *sip.Request) (Key, error) {
	branch := message.GetBranch(req)
	if branch == "" {
		return Key{}, errors.Wrap(ErrInvalidRequest, "missing Via branch")
	}
	if !strings.HasPrefix(branch, "z9hG4bK") {
		return Key{}, errors.Wrapf(ErrInvalidRequest, "branch без magic cookie: %s", branch)
	}
	return Key{Branch: branch, Method: req.Method}, nil
}

// ResponseKey ключ транзакции, к которой относится ответ
func ResponseKey(res *sip.Response) (Key, error) {
	branch := message.GetBranch(res)
	if branch == "" {
		return Key{}, errors.Wrap(ErrInvalidResponse, "missing Via branch")
	}
	cseq := res.CSeq()
	if cseq == nil {
		return Key{}, errors.Wrap(ErrInvalidResponse, "missing CSeq")
	}
	return Key{Branch: branch, Method: cseq.MethodName}, nil
}
