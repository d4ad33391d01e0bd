package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"unicode/utf8"

	"github.com/spf13/pflag"

	"github.com/faanross/simulacra_png/internal/carrier"
	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/decoder"
	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	var (
		common   cli.CommonFlags
		input    string
		output   string
		password string
		tryList  string
		parallel int
		details  bool
		analyze  bool
	)

	fs := pflag.NewFlagSet("stego-extract", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVarP(&input, "input", "i", "", "stego image")
	fs.StringVarP(&output, "output", "o", "", "write the message to this file instead of stdout")
	fs.StringVarP(&password, "password", "p", "", "passphrase (prompted when empty, or $"+scrypto.PassphraseEnvVar+")")
	fs.StringVar(&tryList, "try-list", "", "file of candidate passphrases, one per line")
	fs.IntVar(&parallel, "parallel", 0, "concurrent key derivations for --try-list (0 = one per CPU)")
	fs.BoolVar(&details, "details", false, "print header fields after extraction")
	fs.BoolVar(&analyze, "analyze", false, "print LSB statistics of the input")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if input == "" {
		return errors.New("no input image: pass --input")
	}

	_, logger, err := common.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, kind, err := carrier.Load(input)
	if err != nil {
		return err
	}
	if kind == "jpeg" {
		cli.Warn("JPEG input: lossy compression destroys hidden data")
	}

	cli.Header("Simulacra extract")
	cli.Field("Image", fmt.Sprintf("%s (%s, %dx%d)", input, kind, c.Width, c.Height))

	if analyze {
		st := carrier.Analyze(c)
		cli.Field("Ones ratio", fmt.Sprintf("%.4f", st.OnesRatio))
		cli.Field("LSB entropy", fmt.Sprintf("%.3f bits", st.LSBEntropy))
	}

	var message []byte
	if tryList != "" {
		message, err = runTrial(c.Pixels, tryList, parallel)
		if err != nil {
			return err
		}
	} else {
		pass, err := passphrase(password)
		if err != nil {
			return err
		}
		defer scrypto.ZeroBytes(pass)

		res, err := decoder.NewSecureStegoDecoder(pass, decoder.WithLogger(logger)).Extract(c.Pixels)
		if err != nil {
			if _, ok := format.IsIntegrityError(err); ok {
				return errors.New("wrong passphrase or no message in this image")
			}
			return err
		}
		message = res.Message
		if details {
			cli.Field("Ciphertext", fmt.Sprintf("%d bytes", res.Header.CiphertextLength))
			cli.Field("Salt", fmt.Sprintf("%x", res.Header.Salt))
			cli.Field("Nonce", fmt.Sprintf("%x", res.Header.Nonce))
			cli.Field("Slots read", res.SlotsRead)
		}
	}

	if output != "" {
		if err := os.WriteFile(output, message, 0600); err != nil {
			return err
		}
		cli.Success("Message (%d bytes) written to %s", len(message), output)
		return nil
	}

	cli.Success("Message (%d bytes) authenticated", len(message))
	if !utf8.Valid(message) {
		cli.Warn("message is binary; use --output to save it")
		return nil
	}
	fmt.Fprintln(os.Stdout, string(message))
	return nil
}

func runTrial(pixels []byte, path string, parallel int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	candidates, lines, err := readCandidates(f)
	if err != nil {
		return nil, err
	}
	cli.Field("Candidates", len(candidates))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := decoder.TryPasswords(ctx, pixels, candidates, parallel)
	if err != nil {
		if _, ok := format.IsIntegrityError(err); ok {
			return nil, errors.New("no candidate passphrase opened the image")
		}
		return nil, err
	}
	cli.Field("Passphrase", fmt.Sprintf("line %d", lines[res.Index]))
	return res.Message, nil
}

// readCandidates returns the non-blank lines of a try-list together with
// their 1-based line numbers in the file.
func readCandidates(r io.Reader) ([]string, []int, error) {
	var candidates []string
	var lines []int
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			candidates = append(candidates, line)
			lines = append(lines, n)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return candidates, lines, nil
}

func passphrase(flagValue string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	return scrypto.GetSecurePassword("Passphrase: ")
}
