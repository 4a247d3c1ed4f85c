package channel

import (
	"net/url"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/sip/message"
)

// Identity учетная запись клиента. Задается один раз при старте.
type Identity struct {
	AOR          sip.Uri
	Credentials  message.Credentials
	TransportURL string
}

// NewIdentity разбирает AOR и проверяет URL транспорта.
// Пустой username заменяется user-частью AOR.
func NewIdentity(aor, username, password, transportURL string) (Identity, error) {
	uri, err := message.ParseAOR(aor)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidIdentity, err.Error())
	}
	if username == "" {
		username = uri.User
	}
	id := Identity{
		AOR:          uri,
		Credentials:  message.Credentials{Username: username, Password: password},
		TransportURL: transportURL,
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Validate проверяет учетную запись
func (id Identity) Validate() error {
	if id.AOR.User == "" || id.AOR.Host == "" {
		return errors.Wrap(ErrInvalidIdentity, "AOR без user или host")
	}
	u, err := url.Parse(id.TransportURL)
	if err != nil {
		return errors.Wrapf(ErrInvalidIdentity, "transport url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Wrapf(ErrInvalidIdentity, "transport url %q: ожидается ws:// или wss://", id.TransportURL)
	}
	if u.Host == "" {
		return errors.Wrapf(ErrInvalidIdentity, "transport url %q без host", id.TransportURL)
	}
	return nil
}

// ViaTransport токен транспорта для Via: WS или WSS
func (id Identity) ViaTransport() string {
	if strings.HasPrefix(strings.ToLower(id.TransportURL), "wss:") {
		return "WSS"
	}
	return "WS"
}
