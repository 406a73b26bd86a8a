// Package sentinel isolates every bit of in-band text matching the proxy
// relies on. The "### PING ###" / "### RECONNECT COMPLETE ###" markers
// are a fragile in-band protocol riding on ordinary game output, so
// every place that builds or recognizes one of them is collected here.
package sentinel

import (
	"fmt"
	"strconv"
	"strings"
)

const reconnectCompleteToken = "### RECONNECT COMPLETE ###"

// Ping builds the probe line sent on the heartbeat socket to trigger a
// backend echo.
func Ping(sessionID uint64) string {
	return fmt.Sprintf("think ### PING: %d###", sessionID)
}

// ReconnectBarrier is the sentinel sent right after credential replay on
// a freshly reopened backend socket.
func ReconnectBarrier() string {
	return "think " + reconnectCompleteToken
}

// IsReconnectComplete reports whether a backend line contains the
// reconnect barrier echoed back. The match is an exact, case-sensitive
// substring check.
func IsReconnectComplete(line string) bool {
	return strings.Contains(line, reconnectCompleteToken)
}

// ConnectCommand is a parsed "connect <user> <pass>" line typed by a
// client. ok is false if the line does not match.
type ConnectCommand struct {
	User     string
	Password string
}

// tokenOK rejects characters forbidden in connect tokens: ';', ',', '%',
// and whitespace beyond the two separating spaces.
func tokenOK(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, ";,% \t")
}

// ParseConnect matches "connect <user> <pass>" case-insensitively,
// tolerating leading whitespace.
func ParseConnect(line string) (ConnectCommand, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	fields := strings.Fields(trimmed)
	if len(fields) != 3 {
		return ConnectCommand{}, false
	}
	if !strings.EqualFold(fields[0], "connect") {
		return ConnectCommand{}, false
	}
	if !tokenOK(fields[1]) || !tokenOK(fields[2]) {
		return ConnectCommand{}, false
	}
	return ConnectCommand{User: fields[1], Password: fields[2]}, true
}

// IsIntrospect reports whether a client line is the literal "#?" command.
func IsIntrospect(line string) bool {
	return strings.TrimSpace(line) == "#?"
}

// RemoteHostnameLine builds the "<cmd> <ip>" line sent to a freshly
// opened backend socket, if cmd is configured.
func RemoteHostnameLine(cmd, ip string) (string, bool) {
	if cmd == "" {
		return "", false
	}
	return cmd + " " + ip, true
}

// ConnectLine builds the "connect <user> <pass>" line sent for credential
// replay.
func ConnectLine(user, pass string) string {
	return "connect " + user + " " + pass
}

// FormatSessionID renders a session id as a base-10 string.
func FormatSessionID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
