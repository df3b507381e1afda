// pairctl готовит секреты для конфига сервера: хеш парольной фразы
// вебхука, ключ шифрования и запечатанный токен моста брокера.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"pairbot/pkg/crypto"
)

const usage = `usage: pairctl <command> [flags]

commands:
  hash-passphrase   bcrypt hash for WEBHOOK_PASSPHRASE_HASH
  gen-key           random ENCRYPTION_KEY
  seal-token        encrypt BROKER_TOKEN with ENCRYPTION_KEY
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pairctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	switch args[0] {
	case "hash-passphrase":
		fs := flag.NewFlagSet("hash-passphrase", flag.ContinueOnError)
		cost := fs.Int("cost", crypto.DefaultCost, "bcrypt cost")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		secret, err := readSecret(fs.Args(), stdin)
		if err != nil {
			return err
		}
		hash, err := crypto.HashPassphrase(secret, *cost)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)

	case "gen-key":
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, key)

	case "seal-token":
		fs := flag.NewFlagSet("seal-token", flag.ContinueOnError)
		key := fs.StringP("key", "k", os.Getenv("ENCRYPTION_KEY"), "32-byte encryption key")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		secret, err := readSecret(fs.Args(), stdin)
		if err != nil {
			return err
		}
		sealed, err := crypto.SealToken(secret, *key)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sealed)

	case "help", "-h", "--help":
		fmt.Fprint(out, usage)

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}

// readSecret берёт секрет из аргумента или первой строки stdin
func readSecret(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret is empty")
	}
	return secret, nil
}
