package domain

import (
	"strconv"
	"strings"
)

// Destination указывает, куда отправлять сообщение: "@username", "username",
// числовой chat id ("-100123...") или invite-ссылка "https://t.me/+...".
type Destination string

type DestinationKind int

const (
	DestinationUsername DestinationKind = iota
	DestinationChatID
	DestinationInviteLink
)

// Parse разбирает назначение. Пустая строка считается ошибкой конфигурации.
func (d Destination) Parse() (DestinationKind, string, int64, error) {
	s := strings.TrimSpace(string(d))
	if s == "" {
		return 0, "", 0, InvalidConfig("empty destination")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return DestinationChatID, "", id, nil
	}
	if strings.Contains(s, "/+") || strings.Contains(s, "joinchat/") {
		return DestinationInviteLink, s, 0, nil
	}

	s = strings.TrimPrefix(s, "https://t.me/")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	if s == "" || strings.ContainsAny(s, " /") {
		return 0, "", 0, InvalidConfig("bad destination %q", string(d))
	}
	return DestinationUsername, s, 0, nil
}
