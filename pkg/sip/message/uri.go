package message

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// ParseAOR разбирает address-of-record вида sip:user@domain
func ParseAOR(s string) (sip.Uri, error) {
	var uri sip.Uri
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "sip:") && !strings.HasPrefix(strings.ToLower(s), "sips:") {
		return uri, errors.Wrapf(ErrInvalidURI, "схема не sip: %q", s)
	}
	if err := sip.ParseUri(s, &uri); err != nil {
		return uri, errors.Wrapf(ErrInvalidURI, "%q: %v", s, err)
	}
	if uri.User == "" || uri.Host == "" {
		return uri, errors.Wrapf(ErrInvalidURI, "нужны user и host: %q", s)
	}
	return uri, nil
}

// TargetURI преобразует цель вызова в SIP URI.
//
// "8000" превращается в sip:8000@domain, "8000@other" в sip:8000@other,
// полный URI (sip:/sips:) разбирается как есть.
func TargetURI(target, domain string) (sip.Uri, error) {
	var uri sip.Uri
	target = strings.TrimSpace(target)
	if target == "" {
		return uri, errors.Wrap(ErrInvalidTarget, "пустая цель")
	}
	if strings.ContainsAny(target, " \t\r\n<>\"") {
		return uri, errors.Wrapf(ErrInvalidTarget, "недопустимые символы: %q", target)
	}

	lower := strings.ToLower(target)
	switch {
	case strings.HasPrefix(lower, "sip:"), strings.HasPrefix(lower, "sips:"):
	case strings.Contains(target, "@"):
		target = "sip:" + target
	default:
		if domain == "" {
			return uri, errors.Wrapf(ErrInvalidTarget, "не задан домен для %q", target)
		}
		target = "sip:" + target + "@" + domain
	}

	if err := sip.ParseUri(target, &uri); err != nil {
		return uri, errors.Wrapf(ErrInvalidTarget, "%q: %v", target, err)
	}
	if uri.User == "" || uri.Host == "" {
		return uri, errors.Wrapf(ErrInvalidTarget, "нужны user и host: %q", target)
	}
	return uri, nil
}

// ExtractURI извлекает URI из значения заголовка вида "Name" <sip:...>;params
func ExtractURI(value string) (sip.Uri, bool) {
	var uri sip.Uri
	value = strings.TrimSpace(value)
	if start := strings.IndexByte(value, '<'); start >= 0 {
		end := strings.IndexByte(value[start:], '>')
		if end < 0 {
			return uri, false
		}
		value = value[start+1 : start+end]
	} else if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	if err := sip.ParseUri(value, &uri); err != nil {
		return uri, false
	}
	return uri, true
}

// splitHeaderValues делит значение заголовка по запятым вне угловых скобок и кавычек
func splitHeaderValues(value string) []string {
	var (
		out     []string
		start   int
		inAngle bool
		inQuote bool
	)
	for i, ch := range value {
		switch ch {
		case '"':
			inQuote = !inQuote
		case '<':
			if !inQuote {
				inAngle = true
			}
		case '>':
			if !inQuote {
				inAngle = false
			}
		case ',':
			if !inAngle && !inQuote {
				out = append(out, strings.TrimSpace(value[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(value[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// RecordRoutes возвращает URI всех Record-Route заголовков сообщения в порядке следования
func RecordRoutes(msg sip.Message) []sip.Uri {
	var out []sip.Uri
	for _, h := range msg.GetHeaders("Record-Route") {
		for _, v := range splitHeaderValues(h.Value()) {
			if uri, ok := ExtractURI(v); ok {
				out = append(out, uri)
			}
		}
	}
	return out
}
