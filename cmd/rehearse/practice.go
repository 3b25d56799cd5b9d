package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rehearse/internal/app"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/internal/session/store/memstore"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/audio/capture"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

func practiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Practise a conversation in the terminal",
		Long: `Practise a conversation against the configured providers.

Each user prompt is answered either with the next --wav file, or by
recording from --input: a raw s16le stream such as a FIFO fed by
"arecord -f S16_LE -r 16000 -c 1 -t raw". Press Enter to start and
again to stop a recording. Sessions are kept in memory.`,
		RunE: runPractice,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("scenario", "", "scenario ID (required)")
	f.String("character", "", "character ID (required)")
	f.String("lang", "", "BCP-47 language code (required)")
	f.String("user", "local", "user ID the session belongs to")
	f.StringSlice("wav", nil, "WAV files answering the prompts in order (repeatable)")
	f.String("input", "", "raw s16le PCM stream to record from")
	f.Int("rate", audio.DefaultSampleRate, "sample rate of --input")
	f.Int("channels", 1, "channel count of --input")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("character")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}

// answerer produces one recording per prompt.
type answerer interface {
	next(ctx context.Context) (audio.Capture, error)
}

var errNoMoreAnswers = errors.New("no more recordings")

type wavAnswers struct{ files []string }

func (w *wavAnswers) next(context.Context) (audio.Capture, error) {
	if len(w.files) == 0 {
		return audio.Capture{}, errNoMoreAnswers
	}
	path := w.files[0]
	w.files = w.files[1:]
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Capture{}, err
	}
	return audio.Capture{Data: data, Container: audio.ContainerWAV}, nil
}

type liveAnswers struct {
	rec    *capture.Recorder
	keys   *bufio.Scanner
	out    io.Writer
	format audio.Format
}

func (l *liveAnswers) wait(prompt string) error {
	fmt.Fprint(l.out, prompt)
	if !l.keys.Scan() {
		if err := l.keys.Err(); err != nil {
			return err
		}
		return errNoMoreAnswers
	}
	return nil
}

func (l *liveAnswers) next(ctx context.Context) (audio.Capture, error) {
	if err := l.wait("  [Enter] to record "); err != nil {
		return audio.Capture{}, err
	}
	if err := l.rec.Start(ctx); err != nil {
		return audio.Capture{}, err
	}
	if err := l.wait("  recording… [Enter] to stop "); err != nil {
		_ = l.rec.Close()
		return audio.Capture{}, err
	}
	data, err := l.rec.Stop(ctx)
	if err != nil {
		return audio.Capture{}, err
	}
	return audio.Capture{Data: data, Container: audio.ContainerPCM16, Format: l.format}, nil
}

func runPractice(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	cfg, _, err := loadConfig(v)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ans answerer
	switch wavs, input := v.GetStringSlice("wav"), v.GetString("input"); {
	case len(wavs) > 0:
		ans = &wavAnswers{files: wavs}
	case input != "":
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		format := audio.Format{SampleRate: v.GetInt("rate"), Channels: v.GetInt("channels")}
		rec := capture.NewRecorder(capture.NewReaderSource(f, format.SampleRate*format.Channels/5), cfg.Audio.Capture)
		defer rec.Close()
		ans = &liveAnswers{rec: rec, keys: bufio.NewScanner(cmd.InOrStdin()), out: out, format: format}
	default:
		return errors.New("either --wav or --input is required")
	}

	a, err := app.New(ctx, cfg, app.WithStore(memstore.New()))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.Shutdown(sctx)
	}()

	key := session.Key{
		UserID:      v.GetString("user"),
		ScenarioID:  v.GetString("scenario"),
		CharacterID: v.GetString("character"),
	}
	eng, err := a.Manager().Open(ctx, key, v.GetString("lang"))
	if err != nil {
		return err
	}
	snap := eng.Snapshot()
	printMessages(out, snap.Transcript...)

	for eng.State() != session.StateComplete {
		if p := eng.Snapshot().Prompt; p != nil {
			fmt.Fprintf(out, "\nYou say: %s\n", p.TargetText)
			if p.Transliteration != "" {
				fmt.Fprintf(out, "         %s\n", p.Transliteration)
			}
			fmt.Fprintf(out, "         (%s)\n", p.Translation)
		}

		rec, err := ans.next(ctx)
		if err != nil {
			return err
		}
		res, err := eng.SubmitRecording(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrEncodingFailed), errors.Is(err, audio.ErrInvalidFormat),
			errors.Is(err, assess.ErrUnavailable), errors.Is(err, assess.ErrInvalidResponse):
			fmt.Fprintf(out, "  ✗ %v; try again\n", err)
			continue
		default:
			return err
		}
		printMessages(out, res.Message)
		printMessages(out, res.Replies...)
	}

	final := eng.Snapshot()
	if final.Score != nil {
		fmt.Fprintf(out, "\nConversation complete. Score: %d/100\n", *final.Score)
	} else {
		fmt.Fprintln(out, "\nConversation complete.")
	}
	return nil
}

func printMessages(w io.Writer, msgs ...session.ChatMessage) {
	for _, m := range msgs {
		switch m.Role {
		case session.RoleBot:
			fmt.Fprintf(w, "\n» %s\n  (%s)\n", m.Text, m.Translation)
			if m.ReferenceAudioURL != "" {
				fmt.Fprintf(w, "  audio: %s\n", m.ReferenceAudioURL)
			}
		case session.RoleUser:
			if m.Score == nil {
				continue
			}
			fmt.Fprintf(w, "  ✓ %d/100", *m.Score)
			if m.Feedback != nil {
				for _, word := range m.Feedback.Words {
					if word.ErrorType != assess.ErrorNone {
						fmt.Fprintf(w, "  %s:%s", word.Word, word.ErrorType)
					}
				}
				if m.Feedback.Suggestions != "" {
					fmt.Fprintf(w, "\n  %s", m.Feedback.Suggestions)
				}
			}
			fmt.Fprintln(w)
		}
	}
}
