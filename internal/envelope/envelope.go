package envelope

import "strings"

// Separator splits the sender ID from the content.
const Separator = ":"

// Envelope is a decoded "<senderID>:<content>" payload.
type Envelope struct {
	Sender  string
	Content string

	// HasContent is true when the payload contained a separator, even if
	// the content after it is empty ("ctrl-1:").
	HasContent bool
}

// Parse splits payload on the first separator.
func Parse(payload string) Envelope {
	sender, content, found := strings.Cut(payload, Separator)
	return Envelope{
		Sender:     sender,
		Content:    content,
		HasContent: found,
	}
}

// Decode returns the sender ID and content of payload.
// If payload has no separator the whole payload is the sender and the
// content is empty.
func Decode(payload string) (sender, content string) {
	env := Parse(payload)
	return env.Sender, env.Content
}

// Encode builds an envelope payload. An empty content yields a bare sender.
func Encode(sender, content string) string {
	if content == "" {
		return sender
	}
	return sender + Separator + content
}

// MatchesSender reports whether the envelope sender of payload is expectedID.
func MatchesSender(payload, expectedID string) bool {
	return Parse(payload).Sender == expectedID
}

// MatchesContent reports whether payload carries a separator and its
// content equals expectedContent. Bare IDs never match.
func MatchesContent(payload, expectedContent string) bool {
	env := Parse(payload)
	return env.HasContent && env.Content == expectedContent
}

// String returns the wire form of e.
func (e Envelope) String() string {
	if !e.HasContent {
		return e.Sender
	}
	return e.Sender + Separator + e.Content
}
