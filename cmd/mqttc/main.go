// Command mqttc publishes and subscribes from the command line.
//
//	mqttc [-config mqttc.toml] pub -t topic -m message [-q qos] [-r]
//	mqttc [-config mqttc.toml] sub -t filter [-t filter...] [-q qos] [-n count]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/vitalvas/mqtt"
)

const callTimeout = 30 * time.Second

type topicList []string

func (t *topicList) String() string { return strings.Join(*t, ",") }

func (t *topicList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("mqttc: %v", err))
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("mqttc", flag.ContinueOnError)
	configPath := global.String("config", "", "TOML config file")
	server := global.String("server", "", "server URI, overrides the config")
	clientID := global.String("id", "", "client identifier, overrides the config")
	if err := global.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}

	rest := global.Args()
	if len(rest) == 0 {
		return errors.New("expected pub or sub")
	}

	switch rest[0] {
	case "pub":
		return runPub(cfg, rest[1:], out)
	case "sub":
		return runSub(cfg, rest[1:], out)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func newLogger(level mqtt.LogLevel) mqtt.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return mqtt.WrapZerolog(zerolog.New(w).With().Timestamp().Logger(), level)
}

// dial creates and connects a client for cfg. The returned cleanup closes
// the client and its store.
func dial(cfg Config, extra ...mqtt.Option) (*mqtt.Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	opts := append(cfg.options(newLogger(cfg.LogLevel), store), extra...)
	client, err := mqtt.NewClient(cfg.Server, cfg.ClientID, opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	if err := client.Connect(cfg.ConnectTimeout); err != nil {
		_ = client.Close()
		closeStore()
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.Server, err)
	}

	cleanup := func() {
		if err := client.Disconnect(callTimeout); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			fmt.Fprintln(os.Stderr, color.YellowString("disconnect: %v", err))
		}
		_ = client.Close()
		closeStore()
	}
	return client, cleanup, nil
}

func runPub(cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pub", flag.ContinueOnError)
	topic := fs.String("t", "", "topic")
	message := fs.String("m", "", "message payload")
	qos := fs.Uint("q", 0, "QoS level")
	retain := fs.Bool("r", false, "retain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *topic == "" {
		return errors.New("pub: -t is required")
	}

	client, cleanup, err := dial(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	msg := &mqtt.Message{
		Topic:   *topic,
		Payload: []byte(*message),
		QoS:     byte(*qos),
		Retain:  *retain,
	}
	id, err := client.Publish(msg, callTimeout)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if msg.QoS > mqtt.QoS0 {
		if err := client.WaitForCompletion(id, callTimeout); err != nil {
			return fmt.Errorf("publish %d: %w", id, err)
		}
	}

	fmt.Fprintf(out, "%s %s (%d bytes, qos %d)\n",
		color.GreenString("published"), color.CyanString(msg.Topic), len(msg.Payload), msg.QoS)
	return nil
}

func runSub(cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sub", flag.ContinueOnError)
	var topics topicList
	fs.Var(&topics, "t", "topic filter, repeatable")
	qos := fs.Uint("q", 0, "QoS level")
	count := fs.Int("n", 0, "exit after n messages, 0 runs until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(topics) == 0 {
		return errors.New("sub: -t is required")
	}

	client, cleanup, err := dial(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	subs := make([]mqtt.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, mqtt.Subscription{TopicFilter: t, QoS: byte(*qos)})
	}
	codes, err := client.Subscribe(subs, nil, callTimeout)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for i, rc := range codes {
		fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("subscribed"), color.CyanString(subs[i].TopicFilter), rc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	received := 0
	for ctx.Err() == nil {
		msg, err := client.Receive(time.Second)
		if errors.Is(err, mqtt.ErrTimeout) {
			if !client.IsConnected() {
				return errors.New("connection lost")
			}
			continue
		}
		if err != nil {
			return err
		}

		printMessage(out, msg)
		received++
		if *count > 0 && received >= *count {
			return nil
		}
	}
	return nil
}

func printMessage(out io.Writer, msg *mqtt.Message) {
	flags := ""
	if msg.Retain {
		flags += color.YellowString(" retained")
	}
	if msg.Duplicate {
		flags += color.YellowString(" dup")
	}
	fmt.Fprintf(out, "%s %s%s\n", color.CyanString(msg.Topic), string(msg.Payload), flags)
}
