package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword and isTerminal are replaced in tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p *prompter) text(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt+": ")
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// password reads without echo from a terminal and falls back to a plain line
// when input is piped.
func (p *prompter) password(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return p.text(strings.TrimSuffix(prompt, ": "))
	}

	fmt.Fprint(p.out, prompt)
	pw, err := readPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
