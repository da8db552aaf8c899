// Command gqlws-subscribe runs one GraphQL subscription over the graphql-ws protocol
// and forwards every received data document to a sink.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TykTechnologies/graphql-ws-client/internal/config"
	"github.com/TykTechnologies/graphql-ws-client/internal/sink"
	"github.com/TykTechnologies/graphql-ws-client/pkg/subscription"
	"github.com/TykTechnologies/graphql-ws-client/pkg/subscription/websocket"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "gqlws-subscribe",
		Short: "Run a GraphQL subscription over the graphql-ws protocol",
		Long: `gqlws-subscribe connects to a GraphQL server speaking the graphql-ws protocol,
starts one subscription and forwards the data of every update to stdout, NATS, Kafka or MQTT.

Every flag can also be set in the config file or as environment variable,
e.g. --close-timeout as GQLWS_CLOSE_TIMEOUT.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadConfigFile(v, configFile); err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			zapLogger, err := newZapLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() {
				_ = zapLogger.Sync()
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, out, abstractlogger.NewZapLogger(zapLogger, abstractlogger.DebugLevel))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.gqlws.yaml)")
	flags.StringP(config.KeyEndpoint, "e", "", "ws, wss, http or https url of the graphql endpoint")
	flags.StringP(config.KeyQuery, "q", "", "subscription query")
	flags.String(config.KeyQueryFile, "", "file containing the subscription query")
	flags.String(config.KeyVariables, "", "variables as json or yaml object")
	flags.String(config.KeyVariablesFile, "", "json or yaml file containing the variables")
	flags.String(config.KeyOperationName, "", "operation to run when the query contains several")
	flags.StringSlice(config.KeyCookie, nil, "cookie sent with the upgrade request, name=value")
	flags.StringSliceP(config.KeyHeader, "H", nil, `header sent with the upgrade request, "Name: value"`)
	flags.Bool(config.KeyValidateQuery, false, "parse the query before connecting")
	flags.String(config.KeyTransport, config.TransportNet, "websocket transport, net or http")
	flags.Duration(config.KeyCloseTimeout, subscription.DefaultCloseTimeout, "timeout of the closing handshake")
	flags.String(config.KeyLogLevel, "info", "debug, info, warn or error")
	flags.String(config.KeySink, string(sink.KindStdout), "stdout, nats, kafka or mqtt")
	flags.StringSlice(config.KeySinkURL, nil, "nats servers, kafka brokers or mqtt brokers")
	flags.String(config.KeySinkTopic, "", "nats subject, kafka topic or mqtt topic")
	flags.String(config.KeySinkClientID, "gqlws-subscribe", "client id reported to the sink")
	flags.Int(config.KeySinkQoS, 0, "mqtt quality of service")
	flags.Duration(config.KeySinkTimeout, sink.DefaultTimeout, "timeout of sink operations")

	_ = v.BindPFlags(flags)

	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, logger abstractlogger.Logger) error {
	publisher, err := sink.New(cfg.SinkOptions(), out, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("gqlws-subscribe: on closing sink",
				abstractlogger.Error(err),
			)
		}
	}()

	options := []subscription.OptionFunc{
		subscription.WithLogger(logger),
		subscription.WithTransport(newTransport(cfg.Transport, logger)),
		subscription.WithCloseTimeout(cfg.CloseTimeout),
		subscription.WithOperationName(cfg.OperationName),
	}
	if cfg.ValidateQuery {
		options = append(options, subscription.WithQueryValidation())
	}

	client, err := subscription.NewClient(cfg.Endpoint, cfg.Query, cfg.VariablesJSON, options...)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Dispose()
	}()

	cookies, err := cfg.CookieValues()
	if err != nil {
		return err
	}
	for _, cookie := range cookies {
		if err := client.SetCookie(cookie.Name, cookie.Value); err != nil {
			return err
		}
	}

	headers, err := cfg.HeaderValues()
	if err != nil {
		return err
	}
	for _, header := range headers {
		if err := client.SetHeader(header.Name, header.Value); err != nil {
			return err
		}
	}

	var (
		publishErr error
		failure    *subscription.Error
	)

	client.OnReceived(func(response *subscription.Response) {
		for _, message := range response.Errors() {
			logger.Warn("gqlws-subscribe: on graphql error in data",
				abstractlogger.String("message", message),
			)
		}

		if err := publisher.Publish(ctx, []byte(response.RawData())); err != nil {
			logger.Error("gqlws-subscribe: on publish",
				abstractlogger.Error(err),
			)
			publishErr = err
			_ = client.Disconnect(ctx)
		}
	})
	client.OnError(func(err *subscription.Error) {
		logger.Error("gqlws-subscribe: on subscription error",
			abstractlogger.String("kind", err.Kind.String()),
			abstractlogger.Any("messages", err.Messages),
		)
		if failure == nil {
			failure = err
		}
	})
	client.OnCompleted(func() {
		logger.Info("gqlws-subscribe: on complete",
			abstractlogger.String("endpoint", cfg.Endpoint),
		)
	})

	err = client.Connect(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("gqlws-subscribe: on interrupt")
		return nil
	case err != nil:
		return err
	case publishErr != nil:
		return publishErr
	case failure != nil:
		return failure
	default:
		return nil
	}
}

func newTransport(name string, logger abstractlogger.Logger) subscription.Transport {
	if name == config.TransportHTTP {
		return websocket.NewHTTPTransport(websocket.WithLogger(logger))
	}
	return websocket.NewTransport(websocket.WithLogger(logger))
}

// newZapLogger logs json to stderr, stdout is reserved for the stdout sink.
func newZapLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.OutputPaths = []string{"stderr"}
	return zapConfig.Build()
}
