package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

// ExecEncoder shells out to an external encoder (lame by default) that
// reads raw PCM16LE on stdin and writes the compressed stream to stdout.
// PCM is fed in fixed-size sample frames with the trailing partial frame
// flushed at the end.
type ExecEncoder struct {
	cmd        []string
	frameBytes int
	timeout    time.Duration
}

func NewExecEncoder(command string, frameSamples int, timeout time.Duration) (*ExecEncoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse export command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("export command empty")
	}
	return &ExecEncoder{
		cmd:        args,
		frameBytes: frameSamples * audio.BytesPerSample,
		timeout:    timeout,
	}, nil
}

// Available reports whether the encoder binary is on PATH.
func (e *ExecEncoder) Available() bool {
	_, err := exec.LookPath(e.cmd[0])
	return err == nil
}

func (e *ExecEncoder) Encode(ctx context.Context, pcm []byte) ([]byte, error) {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return nil, fmt.Errorf("encoder unavailable: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	writeErr := func() error {
		defer stdin.Close()
		for off := 0; off < len(pcm); off += e.frameBytes {
			end := off + e.frameBytes
			if end > len(pcm) {
				end = len(pcm) // trailing partial frame
			}
			if _, err := stdin.Write(pcm[off:end]); err != nil {
				return err
			}
		}
		return nil
	}()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("encoder failed: %w", err)
	}
	if writeErr != nil {
		return nil, fmt.Errorf("feed encoder: %w", writeErr)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("encoder produced no output")
	}
	return out.Bytes(), nil
}
