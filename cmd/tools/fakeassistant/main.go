package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/echocat/slf4g"
	_ "github.com/echocat/slf4g/native"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/fakeassistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
)

func main() {
	var (
		addr         string
		token        string
		voices       []string
		stringVoices bool
		transcript   string
		response     string
		audioFile    string
		accessLog    bool
	)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file, using system environment only")
	}

	cmd := kingpin.New("fakeassistant", "Local stand-in for the voice assistant backend.").
		Action(func(*kingpin.ParseContext) error {
			opts := fakeassistant.Options{
				Token:        token,
				StringVoices: stringVoices,
				AccessLog:    accessLog,
				Reply: fakeassistant.Reply{
					Transcript: transcript,
					Response:   response,
				},
			}
			for _, id := range voices {
				opts.Voices = append(opts.Voices, voice.Voice{ID: id, Name: id})
			}
			if audioFile != "" {
				data, err := os.ReadFile(audioFile)
				if err != nil {
					return fmt.Errorf("failed to read reply audio: %w", err)
				}
				opts.Reply.Audio = data
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           fakeassistant.New(opts).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			log.With("addr", addr).
				With("auth", token != "").
				Info("fake assistant listening")
			return runServer(ctx, srv)
		})

	cmd.Flag("addr", "Listen address.").
		Default(":8080").
		Envar("FAKE_ASSISTANT_ADDR").
		StringVar(&addr)
	cmd.Flag("token", "Bearer token required on every request.").
		Envar("FAKE_ASSISTANT_TOKEN").
		StringVar(&token)
	cmd.Flag("voice", "Voice identifier to offer; repeatable.").
		StringsVar(&voices)
	cmd.Flag("string-voices", "Serve the catalog as bare identifiers.").
		BoolVar(&stringVoices)
	cmd.Flag("transcript", "Transcript sent before each reply.").
		Default("I heard you.").
		StringVar(&transcript)
	cmd.Flag("response", "Response text sent before each reply.").
		Default("This is a canned reply.").
		StringVar(&response)
	cmd.Flag("reply-audio", "File whose bytes are sent as the reply audio.").
		ExistingFileVar(&audioFile)
	cmd.Flag("access-log", "Log every request.").
		BoolVar(&accessLog)

	kingpin.MustParse(cmd.Parse(os.Args[1:]))
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
