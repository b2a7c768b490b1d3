// Package envelope parses and produces the "<senderID>:<content>" payload
// convention used on action and claim topics.
//
// An envelope attributes a message to a sender. The content part is
// optional: a bare "ctrl-1" is a sender with no content, which is how
// pings are sent, while "ctrl-1:forward" carries the content "forward".
//
// Decoding never fails. A payload without a separator is treated as a
// bare sender ID, and callers that need content must check HasContent
// (or use MatchesContent, which never matches a bare ID).
package envelope
