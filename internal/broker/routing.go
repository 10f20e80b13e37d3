package broker

import "strings"

// Received messages are relayed per thread, so consumers can filter on a
// single conversation or take them all.
var (
	StreamName        = "MESSAGES"
	SubjectAllThreads = StreamName + ".thread.>"
)

// SubjectForThread is the relay subject of threadID. Subject tokens cannot
// contain '.', '*', '>' or whitespace, so those are replaced.
func SubjectForThread(threadID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, threadID)
	if token == "" {
		token = "_"
	}
	return StreamName + ".thread." + token
}
