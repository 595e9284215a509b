// Package irc classifies raw Twitch chat protocol lines into events.
//
// Classification is substring based. Tags and the rest of the IRC grammar are
// never parsed.
package irc

import (
	"strings"
)

// Kind identifies the type of an Event.
type Kind int

const (
	KindIgnored Kind = iota
	KindMessage
	KindSubscription
	KindFirstConnect
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSubscription:
		return "subscription"
	case KindFirstConnect:
		return "first_connect"
	case KindPing:
		return "ping"
	default:
		return "ignored"
	}
}

// Event is the result of classifying a single line. Only the fields relevant
// to its Kind are set.
type Event struct {
	Kind Kind

	// KindMessage
	Nick string
	Text string

	// KindSubscription
	Subscriber string
	Raw        string

	// KindPing
	Payload string
}

// Protocol markers
const (
	markUserNotice = "USERNOTICE"
	markSubMsgID   = "msg-id=sub"
	markWelcome    = "Welcome"
	markPrivMsg    = "PRIVMSG"
	markPing       = "PING"
)

func ignored() []Event {
	return []Event{{Kind: KindIgnored}}
}

// Parse classifies `line`. It never panics and always returns at least one
// event; lines that match nothing, or that are too malformed to extract the
// fields of their kind, yield a single KindIgnored event.
//
// A welcome line is not exclusive: if the same line is also a PRIVMSG both a
// KindFirstConnect and a KindMessage are returned, in that order.
func Parse(line string) []Event {
	if line == "" {
		return ignored()
	}

	if strings.Contains(line, markUserNotice) && strings.Contains(line, markSubMsgID) {
		// skip the leading ':' of the prefix
		if bang := strings.IndexByte(line, '!'); bang > 1 {
			return []Event{{
				Kind:       KindSubscription,
				Subscriber: line[1:bang],
				Raw:        line,
			}}
		}
	}

	if strings.HasPrefix(line, markPing) {
		return []Event{{
			Kind:    KindPing,
			Payload: strings.TrimSpace(line[len(markPing):]),
		}}
	}

	var evts []Event
	if strings.Contains(line, markWelcome) {
		evts = append(evts, Event{Kind: KindFirstConnect})
	}

	if strings.Contains(line, markPrivMsg) {
		if nick, text, ok := privmsg(line); ok {
			evts = append(evts, Event{
				Kind: KindMessage,
				Nick: nick,
				Text: text,
			})
		}
	}

	if len(evts) == 0 {
		return ignored()
	}
	return evts
}

// privmsg extracts the nick (between index 1 and the first '!') and the text
// (everything after the first ':' found from index 2 onwards).
func privmsg(line string) (nick, text string, ok bool) {
	bang := strings.IndexByte(line, '!')
	if bang <= 1 || len(line) <= 2 {
		return "", "", false
	}
	colon := strings.IndexByte(line[2:], ':')
	if colon < 0 {
		return "", "", false
	}
	return line[1:bang], line[2+colon+1:], true
}
