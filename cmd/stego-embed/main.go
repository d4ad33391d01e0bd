package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/carrier"
	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/encoder"
	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	var (
		common   cli.CommonFlags
		cover    string
		input    string
		text     string
		output   string
		password string
		width    int
		noPolicy bool
		analyze  bool
	)

	fs := pflag.NewFlagSet("stego-embed", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVarP(&cover, "cover", "c", "", "cover image (PNG, BMP, TIFF, WebP or JPEG); random noise when empty")
	fs.StringVarP(&input, "input", "i", "", "file holding the message, - for stdin")
	fs.StringVarP(&text, "text", "t", "", "message given inline")
	fs.StringVarP(&output, "output", "o", "stego.png", "output image (.png, .bmp or .tiff)")
	fs.StringVarP(&password, "password", "p", "", "passphrase (prompted when empty, or $"+scrypto.PassphraseEnvVar+")")
	fs.IntVar(&width, "width", carrier.DefaultWidth, "width of a generated noise cover")
	fs.BoolVar(&noPolicy, "no-policy", false, "skip the passphrase strength rules")
	fs.BoolVar(&analyze, "analyze", false, "print LSB statistics of the output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, logger, err := common.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	message, err := readMessage(input, text)
	if err != nil {
		return err
	}

	cli.Header("Simulacra embed")
	cli.Field("Message", fmt.Sprintf("%d bytes", len(message)))

	var c *carrier.Carrier
	if cover == "" {
		if c, err = carrier.Noise(width, len(message), rand.Reader); err != nil {
			return err
		}
		cli.Field("Cover", fmt.Sprintf("generated noise %dx%d", c.Width, c.Height))
	} else {
		var kind string
		if c, kind, err = carrier.Load(cover); err != nil {
			return err
		}
		cli.Field("Cover", fmt.Sprintf("%s (%s, %dx%d)", cover, kind, c.Width, c.Height))
	}
	cli.Field("Capacity", fmt.Sprintf("%d bytes", format.MaxMessageSize(len(c.Pixels))))

	// Capacity is checked before prompting so a doomed run asks nothing.
	if err := format.CheckCapacity(len(c.Pixels), len(message)); err != nil {
		return err
	}

	pass, err := passphrase(password)
	if err != nil {
		return err
	}
	defer scrypto.ZeroBytes(pass)

	if cfg.PassphrasePolicy && !noPolicy {
		if err := scrypto.CheckPassphrase(pass); err != nil {
			return err
		}
	}

	if _, err := encoder.NewSecureStegoEncoder(message, pass, encoder.WithLogger(logger)).Embed(c.Pixels); err != nil {
		return err
	}
	if err := carrier.Save(output, c); err != nil {
		return err
	}
	logger.Info("stego image written", zap.String("path", output), zap.Int("message_bytes", len(message)))

	if analyze {
		printStats(carrier.Analyze(c))
	}

	cli.Success("Message hidden in %s", output)
	cli.Field("Cipher", fmt.Sprintf("ChaCha20 + HMAC-SHA256, PBKDF2-%d", format.PBKDF2_ITERS))
	return nil
}

func readMessage(input, text string) ([]byte, error) {
	switch {
	case input != "" && text != "":
		return nil, errors.New("use either --input or --text, not both")
	case text != "":
		return []byte(text), nil
	case input == "-":
		return io.ReadAll(os.Stdin)
	case input != "":
		return os.ReadFile(input)
	}
	return nil, errors.New("no message: pass --input or --text")
}

func passphrase(flagValue string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	return scrypto.GetConfirmedPassword("Passphrase: ", "Confirm passphrase: ")
}

func printStats(st carrier.Stats) {
	cli.Header("LSB analysis")
	cli.Field("Elements", st.Elements)
	cli.Field("Ones ratio", fmt.Sprintf("%.4f", st.OnesRatio))
	cli.Field("LSB entropy", fmt.Sprintf("%.3f bits", st.LSBEntropy))
	cli.Field("Mean R/G/B", fmt.Sprintf("%.1f / %.1f / %.1f", st.MeanRed, st.MeanGreen, st.MeanBlue))
	if st.LooksRandom() {
		cli.Field("LSB plane", "noise-like")
	} else {
		cli.Warn("LSB plane is visibly structured")
	}
}
