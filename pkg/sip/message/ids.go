package message

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// NewCallID генерирует Call-ID
func NewCallID() string {
	return uuid.NewString()
}

// NewTag генерирует From/To tag
func NewTag() string {
	return sip.RandString(10)
}

// NewBranch генерирует branch с magic cookie RFC 3261
func NewBranch() string {
	return sip.GenerateBranch()
}

// InvalidHost генерирует случайное имя в домене .invalid для Via и Contact (RFC 7118)
func InvalidHost() string {
	return strings.ToLower(sip.RandString(12)) + ".invalid"
}
