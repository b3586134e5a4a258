package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	modeServer = "server"
	modeClient = "client"

	clearScreen = "\033[H\033[2J"
)

var errInvalidChoice = errors.New("invalid choice")

type launch struct {
	mode string
	host string
	port int
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// newPrompter reads from in, reusing it when it is already buffered so that
// successive prompters over one reader see every line.
func newPrompter(in io.Reader, out io.Writer) *prompter {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &prompter{in: br, out: out}
}

// ask prints question and returns the next input line without surrounding space.
func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) askPort(question string) (int, error) {
	answer, err := p.ask(question)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(answer)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", answer)
	}
	return port, nil
}

// runMenu shows the startup menu and collects what is needed to start the
// chosen mode. An unknown choice prints a notice and returns errInvalidChoice.
func runMenu(in io.Reader, out io.Writer) (launch, error) {
	p := newPrompter(in, out)

	fmt.Fprintln(out, "Welcome to PyChat!")
	fmt.Fprintln(out, "Choose an option:")
	fmt.Fprintln(out, "1. Start server")
	fmt.Fprintln(out, "2. Connect as client")

	mode, err := p.ask("Enter your choice (1/2): ")
	if err != nil {
		return launch{}, err
	}

	switch mode {
	case "1":
		port, err := p.askPort("Enter port to run the server on: ")
		if err != nil {
			return launch{}, err
		}
		return launch{mode: modeServer, port: port}, nil
	case "2":
		host, err := p.ask("Enter server IP: ")
		if err != nil {
			return launch{}, err
		}
		port, err := p.askPort("Enter server port: ")
		if err != nil {
			return launch{}, err
		}
		return launch{mode: modeClient, host: host, port: port}, nil
	default:
		fmt.Fprintln(out, "Invalid choice. Exiting PyChat.")
		return launch{}, errInvalidChoice
	}
}
