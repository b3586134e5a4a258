package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"github.com/Tyrowin/gochat/internal/client"
	"github.com/Tyrowin/gochat/internal/logging"
)

const dialTimeout = 10 * time.Second

func clientCommand(c *cli.Context) error {
	return runClient(c.String("host"), c.Int("port"), c.String("username"), bufio.NewReader(os.Stdin))
}

// runClient connects, logs in, and hands the terminal to the chat window.
// An empty username is asked for on in.
func runClient(host string, port int, username string, in io.Reader) error {
	// the chat window owns the terminal; keep log output out of it
	logging.Setup(os.Stderr, false)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	session, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer session.Close()
	fmt.Println("Connected to PyChat Server!")

	if username, err = askUsername(in, os.Stdout, username); err != nil {
		return err
	}
	if err := session.Login(username); err != nil {
		return err
	}

	return client.Run(session, "PyChat - "+addr)
}

// askUsername returns username, or asks for one on in when it is empty.
func askUsername(in io.Reader, out io.Writer, username string) (string, error) {
	if username != "" {
		return username, nil
	}
	return newPrompter(in, out).ask("Enter your username: ")
}
