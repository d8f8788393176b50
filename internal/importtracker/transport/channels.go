package transport

import "strings"

const (
	incomingSuffix   = "Incoming"
	processingSuffix = "Processing"
	statusSuffix     = "Status"
	deadLetterSuffix = "DeadLetter"
)

func IncomingChannel(subsystem string) string   { return subsystem + incomingSuffix }
func ProcessingChannel(subsystem string) string { return subsystem + processingSuffix }
func StatusChannel(subsystem string) string     { return subsystem + statusSuffix }
func DeadLetterChannel(subsystem string) string { return subsystem + deadLetterSuffix }

func IsDeadLetterChannel(channel string) bool {
	return strings.HasSuffix(channel, deadLetterSuffix)
}
