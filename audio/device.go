package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

func deviceLabel(d DeviceInfo) string {
	if IsBluetooth(d.Name) {
		return d.Name + " \x1b[33m[bluetooth: lower audio quality]\x1b[0m"
	}
	return d.Name
}

// SelectDevice asks the user to pick a capture device, starting on the one
// named current. A single device is returned without prompting. Without a
// terminal on stdin it falls back to a numbered prompt.
func SelectDevice(ctx Context, current string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, errors.New("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	cursor := 0
	for i, d := range devices {
		if d.Name == current {
			cursor = i
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptDevice(devices, os.Stdin, os.Stdout)
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	render := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select input device (↑/↓ or j/k, Enter to confirm, q to cancel):\r\n\r\n")
		for i, d := range devices {
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s\x1b[0m\r\n", deviceLabel(d))
			} else {
				fmt.Printf("    %s\r\n", deviceLabel(d))
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch {
		case n == 1 && (buf[0] == '\r' || buf[0] == '\n'):
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case n == 1 && (buf[0] == 3 || buf[0] == 'q'): // ctrl+c
			fmt.Print("\r\n")
			return nil, ErrSelectionCancelled
		case n == 1 && buf[0] == 'j', n == 3 && buf[0] == 0x1b && buf[2] == 'B':
			cursor = min(cursor+1, len(devices)-1)
		case n == 1 && buf[0] == 'k', n == 3 && buf[0] == 0x1b && buf[2] == 'A':
			cursor = max(cursor-1, 0)
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		render()
	}
}

// promptDevice lists devices by number and reads one choice. An empty line
// or EOF cancels.
func promptDevice(devices []DeviceInfo, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	fmt.Fprintln(out, "Select input device:")
	for i, d := range devices {
		fmt.Fprintf(out, "  %d) %s\n", i+1, d.Name)
	}
	fmt.Fprint(out, "> ")

	line, err := bufio.NewReader(in).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, ErrSelectionCancelled
	}
	n, convErr := strconv.Atoi(line)
	if convErr != nil || n < 1 || n > len(devices) {
		return nil, fmt.Errorf("invalid choice %q", line)
	}
	return &devices[n-1], nil
}
