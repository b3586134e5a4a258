package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "gochat"
	app.Usage = "PyChat-compatible chat relay and terminal client"
	app.Action = interactive
	app.Commands = []cli.Command{
		{
			Name:      "server",
			ShortName: "s",
			Usage:     "Start the chat server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config,c",
					Usage: "Load settings from a TOML file",
				},
				cli.StringFlag{
					Name:  "host,H",
					Usage: "Address to listen on (default 0.0.0.0)",
				},
				cli.IntFlag{
					Name:  "port,p",
					Usage: "Port to listen on (default 12345)",
				},
				cli.StringFlag{
					Name:  "ws,w",
					Usage: "Serve the WebSocket gateway on this address, e.g. :8080",
				},
				cli.BoolFlag{
					Name:  "debug,d",
					Usage: "Enable debug output",
				},
			},
			Action: serverCommand,
		},
		{
			Name:      "client",
			ShortName: "c",
			Usage:     "Connect to a chat server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "host,H",
					Usage: "Server address",
					Value: "127.0.0.1",
				},
				cli.IntFlag{
					Name:  "port,p",
					Usage: "Server port",
					Value: 12345,
				},
				cli.StringFlag{
					Name:  "username,u",
					Usage: "Username; asked interactively when omitted",
				},
			},
			Action: clientCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

// interactive runs the startup menu when no subcommand is given.
// Every prompt and the server console share one reader, so lines typed or piped
// ahead of time are not lost between them.
func interactive(_ *cli.Context) error {
	stdin := bufio.NewReader(os.Stdin)
	choice, err := runMenu(stdin, os.Stdout)
	if errors.Is(err, errInvalidChoice) {
		return nil
	}
	if err != nil {
		return err
	}

	switch choice.mode {
	case modeServer:
		cfg, err := loadServerConfig("")
		if err != nil {
			return err
		}
		cfg.Port = choice.port
		fmt.Print(clearScreen)
		return runServer(cfg, stdin)
	default:
		return runClient(choice.host, choice.port, "", stdin)
	}
}
