package agent

import (
	"regexp"
	"strings"
)

// Action types parsed out of assistant text.
const (
	ActionReact   = "react"
	ActionMessage = "message"
	ActionReply   = "reply"
	ActionSilent  = "silent"
)

// Action is one chat-side effect the assistant asked for inline:
// a reaction tag, a reply tag, an explicit [silent], or plain text
// that becomes an ordinary message.
type Action struct {
	Type    string
	Emoji   string
	Content string
}

var (
	reactTag  = regexp.MustCompile(`\[react:\s*([^\]]+)\]`)
	replyTag  = regexp.MustCompile(`(?i)\[reply\]`)
	silentTag = regexp.MustCompile(`(?i)\[silent\]`)
)

// ParseResponse extracts inline actions from assistant text. Reactions
// come first so a "looking into it" emoji lands before any message.
// Text that is empty once tags are stripped produces no message, which
// is the normal shape for a tool-only round-trip.
func ParseResponse(text string) []Action {
	var actions []Action

	for _, m := range reactTag.FindAllStringSubmatch(text, -1) {
		emoji := strings.TrimSpace(m[1])
		if emoji != "" {
			actions = append(actions, Action{Type: ActionReact, Emoji: emoji})
		}
	}
	text = reactTag.ReplaceAllString(text, "")

	silent := silentTag.MatchString(text)
	text = silentTag.ReplaceAllString(text, "")

	reply := replyTag.MatchString(text)
	text = replyTag.ReplaceAllString(text, "")

	content := strings.TrimSpace(text)
	if silent {
		actions = append(actions, Action{Type: ActionSilent})
		return actions
	}
	if content == "" {
		return actions
	}
	if reply {
		actions = append(actions, Action{Type: ActionReply, Content: content})
	} else {
		actions = append(actions, Action{Type: ActionMessage, Content: content})
	}
	return actions
}
