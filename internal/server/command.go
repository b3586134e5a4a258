// Package server implements the in-band command interpreter shared by
// connected clients and the operator console.
package server

import (
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	cmdClear      = "!clear"
	cmdExit       = "!exit"
	cmdCommands   = "!commands"
	cmdListPeople = "!listpeople"
	cmdKick       = "!kick"
	cmdMsg        = "!msg"
)

const (
	commandsHelp = "\nServer commands:\n" +
		"!kick [username or IP] - Kick a user from the chat\n" +
		"!clear - Clear the server console\n" +
		"!msg [message] - Broadcast a message as the server\n" +
		"!listpeople - List all connected users\n" +
		"!commands - List all server commands"
	listPeopleHeader = "\nConnected users:\n"
	kickUsage        = "Usage: !kick [username or IP]"
	msgUsage         = "Usage: !msg [message]"
	userNotFound     = "User not found."
	unknownCommand   = "Unknown command."
	kickedConsole    = "Kicked %s."

	// consoleClear homes the cursor and erases the local terminal.
	consoleClear = "\033[H\033[2J"
)

// IsCommand reports whether line is routed to the Interpreter.
func IsCommand(line string) bool {
	return strings.HasPrefix(line, "!")
}

// Interpreter executes "!" commands. Clients get a restricted set and replies
// over their own connection; the console gets the full set and replies on its writer.
type Interpreter struct {
	registry  *Registry
	console   io.Writer
	consoleMu sync.Mutex
}

// NewInterpreter creates an Interpreter over registry. Console output goes to console.
func NewInterpreter(registry *Registry, console io.Writer) *Interpreter {
	if console == nil {
		console = io.Discard
	}
	return &Interpreter{registry: registry, console: console}
}

// ExecClient runs line on behalf of c and reports whether c was closed by it,
// in which case the caller must stop reading from c.
func (in *Interpreter) ExecClient(c *Conn, line string) bool {
	username, ok := in.registry.Lookup(c)
	if !ok {
		username = UnknownUser
	}

	switch {
	case line == cmdClear:
		if err := c.Send(clearScreen); err != nil {
			c.logger().Warnf("Error clearing screen for %s: %v", username, err)
		}
	case line == cmdExit:
		in.exit(c)
		return true
	case line == cmdCommands:
		in.reply(c, commandsHelp)
	case line == cmdListPeople:
		in.reply(c, in.listPeople())
	case strings.HasPrefix(line, cmdKick):
		target, ok := commandTarget(line)
		if !ok {
			in.reply(c, kickUsage)
			return false
		}
		kicked, _, found := in.kick(target)
		if !found {
			in.reply(c, userNotFound)
			return false
		}
		return kicked == c
	default:
		c.logger().Debugf("Ignoring unknown command %q from %s", line, username)
	}
	return false
}

// ExecConsole runs line for the operator. Lines without the "!" prefix are ignored.
func (in *Interpreter) ExecConsole(line string) {
	if !IsCommand(line) {
		return
	}

	switch {
	case strings.HasPrefix(line, cmdKick):
		target, ok := commandTarget(line)
		if !ok {
			in.println(kickUsage)
			return
		}
		if _, username, found := in.kick(target); found {
			in.println(fmt.Sprintf(kickedConsole, username))
		} else {
			in.println(userNotFound)
		}
	case line == cmdClear:
		in.print(consoleClear)
	case strings.HasPrefix(line, cmdMsg):
		parts := strings.SplitN(line, " ", 2)
		if len(parts) < 2 {
			in.println(msgUsage)
			return
		}
		in.registry.Broadcast(fmt.Sprintf(serverMsgFormat, parts[1]), nil)
	case line == cmdCommands:
		in.println(commandsHelp)
	case line == cmdListPeople:
		in.println(in.listPeople())
	default:
		in.println(unknownCommand)
	}
}

func (in *Interpreter) exit(c *Conn) {
	if username, removed := in.registry.Remove(c); removed {
		in.registry.Broadcast(fmt.Sprintf(leaveFormat, username), nil)
		c.logger().Infof("%s left with %s", username, cmdExit)
	}
	if err := c.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger().Warnf("Error closing connection: %v", err)
	}
}

// kick removes, announces, and closes the first entry matching target.
func (in *Interpreter) kick(target string) (*Conn, string, bool) {
	e, ok := in.registry.Find(target)
	if !ok {
		return nil, "", false
	}
	username, removed := in.registry.Remove(e.Conn)
	if !removed {
		// another removal path won the race
		return nil, "", false
	}

	in.registry.Broadcast(fmt.Sprintf(kickedFormat, username), nil)
	if err := e.Conn.Close(); err != nil && !isExpectedCloseError(err) {
		e.Conn.logger().Warnf("Error closing connection: %v", err)
	}
	log.WithField("addr", e.Conn.Addr()).Infof("Kicked %s", username)
	return e.Conn, username, true
}

func (in *Interpreter) listPeople() string {
	return listPeopleHeader + strings.Join(in.registry.Usernames(), "\n")
}

func (in *Interpreter) reply(c *Conn, text string) {
	if err := c.Send(text); err != nil {
		c.logger().Warnf("Error sending command reply: %v", err)
	}
}

func (in *Interpreter) print(text string) {
	in.consoleMu.Lock()
	defer in.consoleMu.Unlock()
	_, _ = io.WriteString(in.console, text)
}

func (in *Interpreter) println(text string) {
	in.print(text + "\n")
}

// commandTarget returns the first whitespace-delimited argument of line.
func commandTarget(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}
