// Command anyscatter-sub subscribes to the receiver's MQTT topic and prints
// every frame as "A1 23 45 6E | 0": payload bytes, then the channel index.
//
// Usage:
//
//	anyscatter-sub --broker tcp://localhost:1883
//	anyscatter-sub -c rx.yaml --names
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/xiaogaogaoxiao/anyscatter"
	"github.com/xiaogaogaoxiao/anyscatter/internal/config"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

const (
	defaultBroker = "tcp://localhost:1883"
	quiesceMs     = 250
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

// printer returns a handler that writes one line per record to w. Payloads
// that are not 8-byte records are logged and skipped.
func printer(w io.Writer, names bool, logger *log.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var rec frame.Record
		if err := rec.UnmarshalBinary(msg.Payload()); err != nil {
			logger.Warn("skipping message", "topic", msg.Topic(), "err", err)
			return
		}
		if names {
			fmt.Fprintf(w, "%v  %s\n", rec, anyscatter.ChannelName(int(rec.Channel), int(rec.NumAntennas)))
			return
		}
		fmt.Fprintln(w, rec)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("anyscatter-sub", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", "", "YAML configuration file; only the mqtt section is used.")
	broker := fs.StringP("broker", "b", defaultBroker, "MQTT broker URL.")
	topic := fs.StringP("topic", "t", sink.DefaultTopic, "Topic to subscribe to.")
	qos := fs.Uint8("qos", 0, "Subscription QoS: 0, 1 or 2.")
	names := fs.Bool("names", false, "Append the channel name, e.g. x(0,1).")
	logLevel := fs.StringP("log-level", "l", config.DefaultLogLevel, "Log level: debug, info, warn, error.")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: anyscatter-sub [options]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	mq := cfg.MQTT
	if fs.Changed("broker") || mq.Broker == "" {
		mq.Broker = *broker
	}
	if fs.Changed("topic") {
		mq.Topic = *topic
	}
	if fs.Changed("qos") {
		mq.QoS = *qos
	}
	if mq.QoS > 2 {
		return fmt.Errorf("%w: qos %d", config.ErrInvalid, mq.QoS)
	}
	if mq.Topic == "" {
		mq.Topic = sink.DefaultTopic
	}
	if mq.Timeout <= 0 {
		mq.Timeout = sink.DefaultPublishTimeout
	}
	mq.ClientID = "anyscatter-sub-" + uuid.NewString()

	logger := log.NewWithOptions(stderr, log.Options{ReportTimestamp: true, Prefix: "anyscatter-sub"})
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", *logLevel, err)
	}
	logger.SetLevel(level)

	client, err := sink.ConnectMQTT(mq, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(quiesceMs)

	token := client.Subscribe(mq.Topic, mq.QoS, printer(stdout, *names, logger))
	if !token.WaitTimeout(mq.Timeout) {
		return fmt.Errorf("subscribe %s: %w", mq.Topic, sink.ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", mq.Topic, err)
	}
	logger.Info("subscribed", "broker", mq.Broker, "topic", mq.Topic)

	<-ctx.Done()
	client.Unsubscribe(mq.Topic).WaitTimeout(mq.Timeout)
	return nil
}
