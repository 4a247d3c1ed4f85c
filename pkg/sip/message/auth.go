package message

import (
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

// Credentials учетные данные для digest аутентификации
type Credentials struct {
	Username string
	Password string
}

// IsAuthChallenge проверяет, что ответ требует аутентификации
func IsAuthChallenge(res *sip.Response) bool {
	return res.StatusCode == 401 || res.StatusCode == 407
}

// Authorize повторяет запрос с ответом на digest challenge из res.
// Копия запроса получает новый Via (новая транзакция) и CSeq с номером cseq.
func (e *Endpoint) Authorize(req *sip.Request, res *sip.Response, creds Credentials, cseq uint32) (*sip.Request, error) {
	challengeHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if res.StatusCode == 407 {
		challengeHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	h := res.GetHeader(challengeHeader)
	if h == nil {
		return nil, errors.Wrapf(ErrNoChallenge, "%d без %s", res.StatusCode, challengeHeader)
	}

	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, errors.Wrap(err, "parse challenge")
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: creds.Username,
		Password: creds.Password,
		Count:    1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "compute digest")
	}

	authReq := req.Clone()
	// Clone не копирует тело
	authReq.SetBody(req.Body())
	authReq.RemoveHeader("Via")
	authReq.PrependHeader(e.Via())
	authReq.RemoveHeader("CSeq")
	authReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: req.Method})
	authReq.RemoveHeader("Authorization")
	authReq.RemoveHeader("Proxy-Authorization")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}
