// Command participant-demo wires two in-process Participants together over
// an in-proc channel, opens one stream from alice to bob, and sends a
// handful of messages over it before shutting both down — a smoke test a reader can
// run to see the manager handshake happen end to end.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/participant/participant"
	"github.com/gosuda/participant/transport"
)

var (
	flagMessages int
	flagTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "participant-demo",
	Short: "Exercise two in-process Participants over an in-proc channel",
	RunE:  run,
}

func init() {
	defaultMessages := 10
	if envMessages := os.Getenv("PARTICIPANT_DEMO_MESSAGES"); envMessages != "" {
		if v, err := strconv.Atoi(envMessages); err == nil {
			defaultMessages = v
		}
	}
	defaultTimeout := 2 * time.Second
	if envTimeout := os.Getenv("PARTICIPANT_DEMO_SHUTDOWN_TIMEOUT"); envTimeout != "" {
		if v, err := time.ParseDuration(envTimeout); err == nil {
			defaultTimeout = v
		}
	}

	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagMessages, "messages", defaultMessages, "messages to send on the demo stream (env: PARTICIPANT_DEMO_MESSAGES)")
	flags.DurationVar(&flagTimeout, "shutdown-timeout", defaultTimeout, "Shutdown's grace period before forcing channels closed (env: PARTICIPANT_DEMO_SHUTDOWN_TIMEOUT)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("participant-demo")
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alicePid := participant.NewPid()
	bobPid := participant.NewPid()

	alice := participant.New(bobPid, participant.Config{OffsetSid: 0})
	bob := participant.New(alicePid, participant.Config{OffsetSid: 1})

	go alice.Run(ctx)
	go bob.Run(ctx)

	aliceSide, bobSide := transport.NewInprocPair()
	if err := alice.AttachChannel(ctx, 0, 0, aliceSide); err != nil {
		return err
	}
	if err := bob.AttachChannel(ctx, 0, 0, bobSide); err != nil {
		return err
	}
	alice.CloseAttachInput()
	bob.CloseAttachInput()

	stream, err := alice.OpenStream(ctx, 5, participant.PromiseOrdered|participant.PromiseReliable, 0)
	if err != nil {
		return err
	}
	log.Info().Uint64("sid", stream.Sid).Msg("alice opened stream")

	remoteStream, err := bob.StreamOpened(ctx)
	if err != nil {
		return err
	}
	log.Info().Uint64("sid", remoteStream.Sid).Msg("bob observed remote stream")

	for i := 0; i < flagMessages; i++ {
		payload := []byte{byte(i)}
		if err := stream.Send(ctx, payload); err != nil {
			return err
		}
	}
	log.Info().Int("count", flagMessages).Msg("alice sent messages")

	for i := 0; i < flagMessages; i++ {
		buf, err := remoteStream.Recv(ctx)
		if err != nil {
			return err
		}
		log.Debug().Bytes("payload", buf).Msg("bob received message")
	}
	log.Info().Int("count", flagMessages).Msg("bob received messages")

	stream.Close()
	remoteStream.Close()

	if err := alice.Shutdown(ctx, flagTimeout); err != nil {
		return err
	}
	if err := bob.Shutdown(ctx, flagTimeout); err != nil {
		return err
	}
	log.Info().Msg("clean shutdown")
	return nil
}
