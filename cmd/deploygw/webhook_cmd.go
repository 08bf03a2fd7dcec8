package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/webhook"
)

// secretEnv supplies the secret when neither --secret nor a config is given.
const secretEnv = "NETLIFY_WEBHOOK_SECRET"

const webhookSignHelp = `Usage: deploygw webhook sign [--secret S | --config PATH] [--file PATH]
Print the hex HMAC-SHA256 signature of a payload (stdin by default).
The secret comes from --secret, then $NETLIFY_WEBHOOK_SECRET, then the config.
`

const webhookSendHelp = `Usage: deploygw webhook send [event] [--url URL] [--secret S | --config PATH] [--file PATH]
Send a signed notification to a running gateway. Without --file a sample
payload for the trek-snout site is generated. event defaults to deploy_succeeded.
The URL comes from --url, then $WEBHOOK_URL, then the config's webhook listener.
`

func runWebhookNoun(args []string) int {
	return dispatchNoun("webhook", args,
		map[string]func([]string) int{
			"sign": runWebhookSign,
			"send": runWebhookSend,
		},
		map[string]string{
			"sign": webhookSignHelp,
			"send": webhookSendHelp,
		},
	)
}

// webhookTarget holds what a webhook command needs from flags, env and config.
type webhookTarget struct {
	secret          string
	url             string
	signatureHeader string
	eventHeader     string
}

// resolveWebhookTarget fills in unset values from the environment and, when
// one is given or discoverable, the config file. The URL is only resolved
// when needURL is set.
func resolveWebhookTarget(secret, url, configPath string, needURL bool) (webhookTarget, error) {
	t := webhookTarget{secret: secret, url: url}
	if t.secret == "" {
		t.secret = os.Getenv(secretEnv)
	}
	if t.url == "" {
		t.url = os.Getenv("WEBHOOK_URL")
	}

	needConfig := t.secret == "" || (needURL && t.url == "")
	if configPath == "" && needConfig {
		configPath, _ = config.DiscoverConfigPath()
	}
	if configPath != "" {
		cfg, err := config.Read(configPath)
		if err != nil {
			return t, err
		}
		t.signatureHeader = cfg.Webhook.SignatureHeader
		t.eventHeader = cfg.Webhook.EventHeader
		if t.secret == "" && config.UnresolvedEnvVar(cfg.Webhook.Secret) == "" {
			t.secret = cfg.Webhook.Secret
		}
		if needURL && t.url == "" {
			t.url = listenURL(cfg.Webhook.Listen, cfg.Webhook.Path)
		}
	}

	if needURL && t.url == "" {
		d := config.Defaults()
		t.url = listenURL(d.Webhook.Listen, d.Webhook.Path)
	}
	if t.secret == "" {
		return t, fmt.Errorf("no webhook secret (use --secret, $%s or a config file)", secretEnv)
	}
	return t, nil
}

// listenURL turns a listen address into a URL a local client can reach.
func listenURL(listen, path string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func readPayload(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func runWebhookSign(args []string) int {
	fs := flag.NewFlagSet("webhook sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", "", "HMAC secret")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	file := fs.String("file", "", "Payload file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	target, err := resolveWebhookTarget(*secret, "", *configPath, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	body, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, webhook.Sign(body, target.secret))
	return 0
}

func runWebhookSend(args []string) int {
	// Allow the event before the flags: "webhook send deploy_failed --url ...".
	event := "deploy_succeeded"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		event, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("webhook send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", "", "Gateway notification URL")
	secret := fs.String("secret", "", "HMAC secret")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	file := fs.String("file", "", "Send this payload instead of the generated sample")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		event = fs.Arg(0)
	}

	target, err := resolveWebhookTarget(*secret, *url, *configPath, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var body []byte
	if *file != "" {
		body, err = readPayload(*file)
	} else {
		body, err = webhook.SamplePayload(event, time.Now())
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to build payload: %v\n", err)
		return 1
	}

	t := newTheme()
	fmt.Fprintf(stdout, "%s %s\n", t.Dim.Render("event:"), event)
	fmt.Fprintf(stdout, "%s %s\n", t.Dim.Render("url:"), target.url)
	fmt.Fprintf(stdout, "%s %d bytes\n", t.Dim.Render("payload:"), len(body))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sender := &webhook.Sender{
		URL:             target.url,
		Secret:          target.secret,
		SignatureHeader: target.signatureHeader,
		EventHeader:     target.eventHeader,
	}
	res, err := sender.Send(ctx, event, body)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", t.Failed.Render("Error:"), err)
		return 1
	}

	fmt.Fprintf(stdout, "%s %d\n", t.Dim.Render("status:"), res.StatusCode)
	fmt.Fprintf(stdout, "%s %s\n", t.Dim.Render("response:"), strings.TrimSpace(string(res.Body)))
	if !res.OK() {
		fmt.Fprintln(stdout, t.Failed.Render("Webhook test failed"))
		return 1
	}
	fmt.Fprintln(stdout, t.OK.Render("Webhook test completed successfully"))
	return 0
}
