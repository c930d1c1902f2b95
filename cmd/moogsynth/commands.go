package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/cbegin/moogsynth-go"
)

var errQuit = errors.New("quit")

// readCommands applies one command per input line until ctx is done, the
// input ends or a quit command arrives. Bad commands are logged and skipped.
func readCommands(ctx context.Context, r io.Reader, pl *moogsynth.Player) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			err := applyCommand(pl, line)
			if errors.Is(err, errQuit) {
				return err
			}
			if err != nil {
				log.Printf("command %q: %v", line, err)
			}
		}
	}
}

// applyCommand runs a single command such as "set cutoff 800",
// "tempo 140", "pattern 0,3,7" or "off".
func applyCommand(pl *moogsynth.Player, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "set":
		if len(args) == 1 {
			id, v, err := parseAssignment(args[0])
			if err != nil {
				return err
			}
			pl.SetParameter(id, v)
			return nil
		}
		if len(args) != 2 {
			return errors.New("usage: set <param> <value>")
		}
		id, v, err := parseAssignment(args[0] + "=" + args[1])
		if err != nil {
			return err
		}
		pl.SetParameter(id, v)
	case "tempo":
		v, err := floatArg(args)
		if err != nil {
			return err
		}
		pl.Sequencer().SetTempo(v)
	case "subdiv":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		pl.Sequencer().SetSubdivision(n)
	case "transpose":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		pl.Sequencer().SetTranspose(n)
	case "randomize":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		pl.Sequencer().SetRandomize(n)
	case "pattern":
		if len(args) != 1 {
			return errors.New("usage: pattern <n,n,...>")
		}
		steps, err := parsePattern(args[0])
		if err != nil {
			return err
		}
		pl.Sequencer().SetPattern(steps)
	case "oversampling":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		pl.Engine().SetOversampling(n)
	case "volume":
		v, err := floatArg(args)
		if err != nil {
			return err
		}
		pl.SetMasterVolume(v)
	case "note":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		if n < 0 || n > 127 {
			return fmt.Errorf("note %d outside 0..127", n)
		}
		pl.NoteOnNow(n)
	case "off":
		pl.NoteOffNow()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

func floatArg(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one value")
	}
	return strconv.ParseFloat(args[0], 64)
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one value")
	}
	return strconv.Atoi(args[0])
}
