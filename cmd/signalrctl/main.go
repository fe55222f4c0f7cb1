package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"gitlab.com/techviking/signalr/v3"
)

const SignalRCtlVersion = "3.0.0"

func main() {
	usage := `SignalR control.

Usage:
    signalrctl negotiate <url> [--token=<token>] [--v=<level>]
    signalrctl invoke <url> <hub> <method> [<arg>...]
        [--token=<token>] [--transport=<transport>] [--timeout=<timeout>] [--v=<level>]
    signalrctl listen <url> <hub> <event>...
        [--token=<token>] [--transport=<transport>] [--v=<level>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --token=<token>            Bearer JWT. Use - to read it from the terminal.
    --transport=<transport>    auto, webSockets, serverSentEvents or longPolling [default: auto].
    --timeout=<timeout>        Give up on the invocation after this long [default: 30s].
    --v=<level>                Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SignalRCtlVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if level, err := opts.String("--v"); err == nil {
		flag.Set("v", level)
	}
	defer glog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if negotiate_, _ := opts.Bool("negotiate"); negotiate_ {
		err = negotiate(ctx, opts)
	} else if invoke_, _ := opts.Bool("invoke"); invoke_ {
		err = invoke(ctx, opts)
	} else if listen_, _ := opts.Bool("listen"); listen_ {
		err = listen(ctx, opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func config(opts docopt.Opts) (signalr.Config, error) {
	rawURL, _ := opts.String("<url>")
	connectionURL, err := url.Parse(rawURL)
	if err != nil {
		return signalr.Config{}, err
	}

	c := signalr.Config{
		QueryString: map[string]string{},
	}
	for k, values := range connectionURL.Query() {
		if 0 < len(values) {
			c.QueryString[k] = values[0]
		}
	}
	connectionURL.RawQuery = ""
	c.ConnectionURL = *connectionURL

	if token, err := opts.String("--token"); err == nil && token != "" {
		if token == "-" {
			token, err = readToken()
			if err != nil {
				return signalr.Config{}, err
			}
		}
		c.BearerToken = token
	}

	transport, _ := opts.String("--transport")
	switch transport {
	case "", "auto":
		c.TryWebSockets = true
	case "webSockets":
		c.Transport = signalr.NewWebSocketsTransport()
	case "serverSentEvents":
		c.Transport = signalr.NewServerSentEventsTransport()
	case "longPolling":
		c.Transport = signalr.NewLongPollingTransport()
	default:
		return signalr.Config{}, fmt.Errorf("unknown transport %q", transport)
	}

	return c, nil
}

func readToken() (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("--token=- needs a terminal")
	}
	fmt.Fprint(os.Stderr, "Enter token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintf(os.Stderr, "\n")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(tokenBytes)), nil
}

func negotiate(ctx context.Context, opts docopt.Opts) error {
	c, err := config(opts)
	if err != nil {
		return err
	}

	response, err := signalr.Negotiate(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(response)
}

func invoke(ctx context.Context, opts docopt.Opts) error {
	c, err := config(opts)
	if err != nil {
		return err
	}
	hubName, _ := opts.String("<hub>")
	method, _ := opts.String("<method>")
	timeout, err := time.ParseDuration(opts["--timeout"].(string))
	if err != nil {
		return err
	}

	var args []interface{}
	if rawArgs, ok := opts["<arg>"].([]string); ok {
		args = parseArgs(rawArgs)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hub := signalr.NewHubConnection(c)
	proxy, err := hub.CreateProxy(hubName)
	if err != nil {
		return err
	}

	defer hub.Close()
	if _, err := hub.Start().Await(ctx); err != nil {
		return err
	}

	result, err := proxy.Invoke(method, args...).Await(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return printJSON(result)
}

//parseArgs each argument is JSON if it parses, a string otherwise.
func parseArgs(rawArgs []string) []interface{} {
	args := make([]interface{}, len(rawArgs))
	for i, raw := range rawArgs {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[i] = v
	}
	return args
}

func listen(ctx context.Context, opts docopt.Opts) error {
	c, err := config(opts)
	if err != nil {
		return err
	}
	hubName, _ := opts.String("<hub>")
	events, _ := opts["<event>"].([]string)

	hub := signalr.NewHubConnection(c)
	proxy, err := hub.CreateProxy(hubName)
	if err != nil {
		return err
	}

	for _, event := range events {
		event := event
		if _, err := proxy.On(event, func(args []json.RawMessage) {
			printJSON(map[string]interface{}{
				"event": event,
				"args":  args,
			})
		}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub.OnClosed(cancel)
	hub.OnStateChanged(func(change signalr.StateChange) {
		glog.Infof("[ctl]%s -> %s\n", change.OldState, change.NewState)
	})
	errs := hub.ListenToErrors()

	if _, err := hub.Start().Await(ctx); err != nil {
		hub.Close()
		return err
	}
	glog.Infof("[ctl]listening on %s over %s\n", hubName, hub.Transport().Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-errs:
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		return nil
	})
	return g.Wait()
}

func printJSON(v interface{}) error {
	var out []byte
	var err error
	if term.IsTerminal(int(os.Stdout.Fd())) {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", out)
	return nil
}
