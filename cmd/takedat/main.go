// takedat sends and receives files through a takedat relay using short
// share codes.
//
// Usage:
//
//	takedat send [--server url] [--chunk-size n] <file>
//	takedat receive [--server url] [--out dir] <code>
//	takedat info [--server url] <code>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/client"
	"github.com/ssd-technologies/takedat/internal/config"
	"github.com/ssd-technologies/takedat/internal/fileio"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/transfer"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		err = cmdSend(cfg, os.Args[2:])
	case "receive", "recv":
		err = cmdReceive(cfg, os.Args[2:])
	case "info":
		err = cmdInfo(cfg, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if errors.Is(err, errCancelled) {
		os.Exit(130)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// errCancelled reports a transfer stopped by SIGINT/SIGTERM.
var errCancelled = errors.New("cancelled")

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: takedat <command> [flags]

Commands:
  send      Share a file and print its code
  receive   Download the file behind a code
  info      Show what a code points to

Run 'takedat <command> --help' for details on each command.
`)
}

// signalContext is cancelled on the first SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newClients(serverURL string) (*client.Directory, *client.Relay, error) {
	rl, err := client.NewRelay(serverURL)
	if err != nil {
		return nil, nil, err
	}
	return client.NewDirectory(serverURL, nil), rl, nil
}

func cmdSend(cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	serverURL := fs.String("server", cfg.ServerURL, "takedat server URL")
	chunkSize := fs.Int("chunk-size", cfg.ChunkSize, "chunk size in bytes")
	ackTimeout := fs.Duration("ack-timeout", cfg.AckTimeout, "how long to wait for each chunk acknowledgement")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("send takes exactly one file")
	}

	f, err := fileio.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	src, err := chunk.NewSource(f, f.Size(), f.Name(), f.DetectMime(), *chunkSize)
	if err != nil {
		return err
	}

	dir, rl, err := newClients(*serverURL)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	bar := newProgress(f.Size())
	runner := &transfer.SendRunner{
		Directory:  dir,
		Dialer:     rl,
		AckTimeout: *ackTimeout,
		OnCode: func(code string, expiresAt time.Time) {
			fmt.Printf("Sharing %s (%s)\n", f.Name(), formatBytes(f.Size()))
			fmt.Printf("Code: %s  (valid until %s)\n", code, expiresAt.Format("15:04:05"))
			fmt.Println("Waiting for the receiver...")
		},
		OnState: func(s transfer.State) {
			if s == transfer.StateTransferring {
				fmt.Println("Receiver connected, sending...")
			}
		},
		OnProgress: func(done, total int) { bar.update(done, total) },
	}

	err = runner.Run(ctx, src)
	bar.finish()
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Cancelled, session withdrawn.")
			return errCancelled
		}
		return err
	}
	fmt.Println("Transfer complete.")
	return nil
}

func cmdReceive(cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	serverURL := fs.String("server", cfg.ServerURL, "takedat server URL")
	out := fs.String("out", cfg.DownloadDir, "directory to save the file in")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("receive takes a code")
	}
	code := strings.Join(fs.Args(), "")

	dir, rl, err := newClients(*serverURL)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	var bar *progress
	runner := &transfer.ReceiveRunner{
		Directory: dir,
		Dialer:    rl,
		Saver:     fileio.Saver{Dir: *out},
		OnInfo: func(info protocol.SessionInfo) {
			fmt.Printf("Incoming: %s (%s, %s)\n", info.FileName, formatBytes(info.FileSize), info.MimeType)
			bar = newProgress(info.FileSize)
		},
		OnState: func(s transfer.State) {
			if s == transfer.StateWaiting {
				fmt.Println("Waiting for the sender...")
			}
		},
		OnProgress: func(done, total int) {
			if bar != nil {
				bar.update(done, total)
			}
		},
	}

	path, err := runner.Run(ctx, code)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return errCancelled
		}
		return err
	}
	fmt.Printf("Saved to %s\n", path)
	return nil
}

func cmdInfo(cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	serverURL := fs.String("server", cfg.ServerURL, "takedat server URL")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("info takes a code")
	}
	code := protocol.NormalizeCode(strings.Join(fs.Args(), ""))
	if !protocol.ValidCode(code) {
		return fmt.Errorf("%q is not a complete code", code)
	}

	ctx, stop := signalContext()
	defer stop()
	info, err := client.NewDirectory(*serverURL, nil).GetSession(ctx, code)
	if err != nil {
		return err
	}
	fmt.Printf("Code:    %s\n", code)
	fmt.Printf("File:    %s\n", info.FileName)
	fmt.Printf("Size:    %s\n", formatBytes(info.FileSize))
	fmt.Printf("Type:    %s\n", info.MimeType)
	fmt.Printf("Status:  %s\n", info.Status)
	return nil
}
