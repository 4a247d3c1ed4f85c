package media_sdp

import (
	"strconv"
	"strings"
)

const audioMediaPrefix = "m=audio "

// PrioritizeCodec ставит payload type pt первым в списке форматов первой строки m=audio.
//
// Порт, транспортный протокол и порядок остальных форматов сохраняются, остальные строки
// и окончания строк не меняются. Если строки m=audio нет или pt в ней отсутствует,
// body возвращается без изменений и found равен false.
func PrioritizeCodec(body string, pt uint8) (string, bool) {
	lines := strings.SplitAfter(body, "\n")
	target := strconv.Itoa(int(pt))

	for i, line := range lines {
		content, eol := splitLineEnding(line)
		if !strings.HasPrefix(content, audioMediaPrefix) {
			continue
		}

		fields := strings.Split(content, " ")
		// m=audio <port> <proto> <fmt> ...
		if len(fields) < 4 {
			return body, false
		}
		formats := fields[3:]
		idx := -1
		for j, f := range formats {
			if f == target {
				idx = j
				break
			}
		}
		if idx < 0 {
			return body, false
		}
		if idx == 0 {
			return body, true
		}

		reordered := make([]string, 0, len(formats))
		reordered = append(reordered, target)
		reordered = append(reordered, formats[:idx]...)
		reordered = append(reordered, formats[idx+1:]...)

		rebuilt := strings.Join(append(fields[:3:3], reordered...), " ")
		out := make([]string, len(lines))
		copy(out, lines)
		out[i] = rebuilt + eol
		return strings.Join(out, ""), true
	}

	return body, false
}

// AudioFormats возвращает список форматов первой строки m=audio
func AudioFormats(body string) []string {
	for _, line := range strings.SplitAfter(body, "\n") {
		content, _ := splitLineEnding(line)
		if !strings.HasPrefix(content, audioMediaPrefix) {
			continue
		}
		fields := strings.Split(content, " ")
		if len(fields) < 4 {
			return nil
		}
		return append([]string(nil), fields[3:]...)
	}
	return nil
}

func splitLineEnding(line string) (string, string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	default:
		return line, ""
	}
}
