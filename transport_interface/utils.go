package transport_interface

import (
	"strings"
)

func PrettyId(peerId string) string {
	l := len(peerId)
	if l > 10 {
		l = 10
	}
	return peerId[0:l]
}

func PrettyIds(peerId []string) string {
	s := make([]string, len(peerId))
	for i, v := range peerId {
		s[i] = PrettyId(v)
	}
	return strings.Join(s, ",")
}
